package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "FIELDBOOK_DB_DSN"
	EnvDBHost = "FIELDBOOK_DB_HOST"
	EnvDBUser = "FIELDBOOK_DB_USER"
	EnvDBName = "FIELDBOOK_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	LocalStore LocalStoreConfig
	Sync       SyncConfig
	Reconcile  ReconcileConfig
	Integrity  IntegrityConfig
	Redis      RedisConfig
	JWT        JWTConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FIELDBOOK_APP_ENV" required:"true"`
	Port         string `envconfig:"FIELDBOOK_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"FIELDBOOK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FIELDBOOK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind          string        `envconfig:"FIELDBOOK_SERVICE_KIND" default:"api"`
	ShutdownGrace time.Duration `envconfig:"FIELDBOOK_SERVICE_SHUTDOWN_GRACE" default:"15s"`
}

type DBConfig struct {
	DSN    string `envconfig:"FIELDBOOK_DB_DSN"`
	Driver string `envconfig:"FIELDBOOK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FIELDBOOK_DB_HOST"`
	LegacyPort     int    `envconfig:"FIELDBOOK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FIELDBOOK_DB_USER"`
	LegacyPassword string `envconfig:"FIELDBOOK_DB_PASSWORD"`
	LegacyName     string `envconfig:"FIELDBOOK_DB_NAME"`
	LegacySSLMode  string `envconfig:"FIELDBOOK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FIELDBOOK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FIELDBOOK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FIELDBOOK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FIELDBOOK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// LocalStoreConfig locates the on-device durable store.
type LocalStoreConfig struct {
	Path        string        `envconfig:"FIELDBOOK_LOCAL_STORE_PATH" default:"fieldbook.db"`
	BusyTimeout time.Duration `envconfig:"FIELDBOOK_LOCAL_STORE_BUSY_TIMEOUT" default:"5s"`
}

type SyncConfig struct {
	MaxAttempts    int           `envconfig:"FIELDBOOK_SYNC_MAX_ATTEMPTS" default:"3"`
	BackoffBase    time.Duration `envconfig:"FIELDBOOK_SYNC_BACKOFF_BASE" default:"500ms"`
	BackoffMax     time.Duration `envconfig:"FIELDBOOK_SYNC_BACKOFF_MAX" default:"10s"`
	DrainBatchSize int           `envconfig:"FIELDBOOK_SYNC_DRAIN_BATCH_SIZE" default:"50"`
	ProbeInterval  time.Duration `envconfig:"FIELDBOOK_SYNC_PROBE_INTERVAL" default:"30s"`
	TickInterval   time.Duration `envconfig:"FIELDBOOK_SYNC_TICK_INTERVAL" default:"5m"`
}

type ReconcileConfig struct {
	ExcludeDemoParties bool   `envconfig:"FIELDBOOK_RECONCILE_EXCLUDE_DEMO" default:"true"`
	DemoPartyPrefixes  string `envconfig:"FIELDBOOK_RECONCILE_DEMO_PREFIXES" default:"demo,test"`
}

// DemoPrefixes returns the configured demo-counterparty name prefixes.
func (r ReconcileConfig) DemoPrefixes() []string {
	parts := strings.Split(r.DemoPartyPrefixes, ",")
	prefixes := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			prefixes = append(prefixes, trimmed)
		}
	}
	return prefixes
}

type IntegrityConfig struct {
	Execute         bool          `envconfig:"FIELDBOOK_INTEGRITY_EXECUTE" default:"false"`
	DeleteBatchSize int           `envconfig:"FIELDBOOK_INTEGRITY_DELETE_BATCH_SIZE" default:"25"`
	ReportDir       string        `envconfig:"FIELDBOOK_INTEGRITY_REPORT_DIR" default:"reports"`
	RunInterval     time.Duration `envconfig:"FIELDBOOK_INTEGRITY_RUN_INTERVAL" default:"24h"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FIELDBOOK_REDIS_URL"`
	Address      string        `envconfig:"FIELDBOOK_REDIS_ADDR"`
	Password     string        `envconfig:"FIELDBOOK_REDIS_PASSWORD"`
	DB           int           `envconfig:"FIELDBOOK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FIELDBOOK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FIELDBOOK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FIELDBOOK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FIELDBOOK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FIELDBOOK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FIELDBOOK_JWT_SECRET"`
	Issuer            string `envconfig:"FIELDBOOK_JWT_ISSUER" default:"fieldbook"`
	ExpirationMinutes int    `envconfig:"FIELDBOOK_JWT_EXPIRATION_MINUTES" default:"720"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"FIELDBOOK_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	RunReportTopic string `envconfig:"FIELDBOOK_PUBSUB_RUN_REPORT_TOPIC"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
