package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// Pinger is the reachability probe, usually the remote store client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor reports online/offline transitions. The signal is advisory: when
// it is missing or ambiguous the core assumes online and lets the remote
// call fail on its own.
type Monitor interface {
	Online() bool
	Changes() <-chan bool
	Run(ctx context.Context) error
}

// ProbeMonitor derives connectivity by pinging the remote store on a fixed
// interval and publishing edge transitions.
type ProbeMonitor struct {
	pinger   Pinger
	logg     *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	online  bool
	changes chan bool

	now func() time.Time
}

const (
	defaultProbeInterval = 30 * time.Second
	probeTimeout         = 5 * time.Second
)

// NewProbeMonitor builds a monitor that starts out assuming online.
func NewProbeMonitor(pinger Pinger, interval time.Duration, logg *logger.Logger) (*ProbeMonitor, error) {
	if pinger == nil {
		return nil, errors.New("pinger required")
	}
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &ProbeMonitor{
		pinger:   pinger,
		logg:     logg,
		interval: interval,
		online:   true,
		changes:  make(chan bool, 1),
		now:      time.Now,
	}, nil
}

// Online returns the last observed state.
func (m *ProbeMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Changes delivers edge transitions. The channel is buffered and lossy: a
// slow consumer only ever misses intermediate flips, never the latest state.
func (m *ProbeMonitor) Changes() <-chan bool {
	return m.changes
}

// Run probes until the context is canceled.
func (m *ProbeMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	online := m.pinger.Ping(probeCtx) == nil
	m.publish(ctx, online)
}

func (m *ProbeMonitor) publish(ctx context.Context, online bool) {
	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	if m.logg != nil {
		logCtx := m.logg.WithField(ctx, "online", online)
		m.logg.Info(logCtx, "connectivity changed")
	}

	// Drop a stale unconsumed transition so the channel always carries
	// the most recent state.
	select {
	case <-m.changes:
	default:
	}
	m.changes <- online
}
