package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fieldbook/fieldbook-sync/pkg/config"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// metaNamespace holds bookkeeping keys (last sync timestamp, cache marks)
// apart from entity caches.
const metaNamespace = "_meta"

// MetaKeyLastSyncAt records the wall-clock time of the last clean drain.
const MetaKeyLastSyncAt = "last_sync_at"

// ErrRecordNotFound signals a missing key in the local store.
var ErrRecordNotFound = errors.New("localstore: record not found")

// Record is one durable key-value entry. Entity caches use the entity kind
// as namespace and the entity id as key.
type Record struct {
	Namespace string          `gorm:"column:namespace;primaryKey"`
	Key       string          `gorm:"column:key;primaryKey"`
	Value     json.RawMessage `gorm:"column:value;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName fixes the sqlite table name.
func (Record) TableName() string { return "kv_records" }

// Store is the on-device durable store. All mutations commit before the
// calling operation returns; a failure here is fatal to that operation.
type Store struct {
	conn *gorm.DB
}

// Open initializes (and migrates) the sqlite-backed store at the configured
// path. Use ":memory:" for tests.
func Open(ctx context.Context, cfg config.LocalStoreConfig, logg *logger.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("local store path is required")
	}

	dsn := cfg.Path
	if cfg.Path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.Path, cfg.BusyTimeout.Milliseconds())
	}

	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	if err := conn.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating local store: %w", err)
	}

	if logg != nil {
		logg.Info(ctx, "local store opened")
	}

	return &Store{conn: conn}, nil
}

// DB exposes the shared sqlite connection so sibling components (the pending
// queue) persist into the same database file.
func (s *Store) DB() *gorm.DB {
	return s.conn
}

// Ping verifies the database file is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PutRecord durably upserts one entry.
func (s *Store) PutRecord(ctx context.Context, namespace, key string, value json.RawMessage) error {
	record := Record{Namespace: namespace, Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// GetRecord reads one entry.
func (s *Store) GetRecord(ctx context.Context, namespace, key string) (json.RawMessage, error) {
	var record Record
	err := s.conn.WithContext(ctx).
		Where("namespace = ? AND key = ?", namespace, key).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, namespace, key)
		}
		return nil, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return record.Value, nil
}

// ListRecords returns every value in a namespace, oldest write first.
func (s *Store) ListRecords(ctx context.Context, namespace string) ([]json.RawMessage, error) {
	var records []Record
	err := s.conn.WithContext(ctx).
		Where("namespace = ?", namespace).
		Order("updated_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", namespace, err)
	}
	values := make([]json.RawMessage, 0, len(records))
	for _, record := range records {
		values = append(values, record.Value)
	}
	return values, nil
}

// ReplaceNamespace atomically swaps the entire cache for a namespace with
// the provided documents, keyed by id.
func (s *Store) ReplaceNamespace(ctx context.Context, namespace string, docs map[string]json.RawMessage) error {
	return s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("namespace = ?", namespace).Delete(&Record{}).Error; err != nil {
			return fmt.Errorf("clear %s: %w", namespace, err)
		}
		for key, value := range docs {
			record := Record{Namespace: namespace, Key: key, Value: value}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("refill %s/%s: %w", namespace, key, err)
			}
		}
		return nil
	})
}

// DeleteRecord removes one entry; deleting a missing key is a no-op.
func (s *Store) DeleteRecord(ctx context.Context, namespace, key string) error {
	err := s.conn.WithContext(ctx).
		Where("namespace = ? AND key = ?", namespace, key).
		Delete(&Record{}).Error
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// SetMeta stores a bookkeeping value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.PutRecord(ctx, metaNamespace, key, encoded)
}

// GetMeta reads a bookkeeping value, returning empty when unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	raw, err := s.GetRecord(ctx, metaNamespace, key)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", err
	}
	return value, nil
}
