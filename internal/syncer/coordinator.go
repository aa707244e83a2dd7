package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldbook/fieldbook-sync/internal/connectivity"
	"github.com/fieldbook/fieldbook-sync/internal/queue"
	"github.com/fieldbook/fieldbook-sync/internal/remote"
	"github.com/fieldbook/fieldbook-sync/pkg/enums"
	pkgerrors "github.com/fieldbook/fieldbook-sync/pkg/errors"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
	"github.com/fieldbook/fieldbook-sync/pkg/metrics"
	"github.com/fieldbook/fieldbook-sync/pkg/retry"
)

const (
	defaultMaxAttempts    = 3
	defaultDrainBatchSize = 50
	defaultTickInterval   = 5 * time.Minute
)

// queueStore is the slice of the pending queue the coordinator drives.
type queueStore interface {
	OldestFirst(ctx context.Context, limit int) ([]queue.PendingOperation, error)
	Ack(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, attemptErr error) (*queue.PendingOperation, error)
	Evict(ctx context.Context, id uuid.UUID, reason error) (*queue.PendingOperation, error)
	Count(ctx context.Context) (int64, error)
}

// metaStore persists the last-successful-sync timestamp.
type metaStore interface {
	SetMeta(ctx context.Context, key, value string) error
}

// OpCallback observes queue outcomes (acknowledgments, abandonments).
type OpCallback func(ctx context.Context, op queue.PendingOperation, err error)

// Params configure the coordinator.
type Params struct {
	Logger  *logger.Logger
	Queue   queueStore
	Remote  remote.Store
	Monitor connectivity.Monitor
	Meta    metaStore
	Metrics *metrics.SyncMetrics

	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	DrainBatchSize int
	TickInterval   time.Duration
	LastSyncKey    string

	// OnAck fires after a remote acknowledgment; OnEvict after an
	// operation is abandoned. Abandonment is never silent.
	OnAck   OpCallback
	OnEvict OpCallback
}

// Coordinator drains the pending-operation queue against the remote store.
// Drains are single-flight per process: a flush requested mid-drain coalesces
// into one follow-up cycle.
type Coordinator struct {
	logg    *logger.Logger
	queue   queueStore
	remote  remote.Store
	monitor connectivity.Monitor
	meta    metaStore
	metrics *metrics.SyncMetrics

	maxAttempts int
	policy      retry.Policy
	batchSize   int
	tick        time.Duration
	lastSyncKey string
	onAck       OpCallback
	onEvict     OpCallback

	mu       sync.Mutex
	draining bool
	rerun    bool

	now func() time.Time
}

// NewCoordinator wires a coordinator from explicit dependencies; no
// process-wide state is consulted.
func NewCoordinator(params Params) (*Coordinator, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Queue == nil {
		return nil, errors.New("queue required")
	}
	if params.Remote == nil {
		return nil, errors.New("remote store required")
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	batchSize := params.DrainBatchSize
	if batchSize <= 0 {
		batchSize = defaultDrainBatchSize
	}
	tick := params.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	lastSyncKey := params.LastSyncKey
	if lastSyncKey == "" {
		lastSyncKey = "last_sync_at"
	}
	return &Coordinator{
		logg:        params.Logger,
		queue:       params.Queue,
		remote:      params.Remote,
		monitor:     params.Monitor,
		meta:        params.Meta,
		metrics:     params.Metrics,
		maxAttempts: maxAttempts,
		policy: retry.Policy{
			MaxAttempts: maxAttempts,
			BackoffBase: params.BackoffBase,
			BackoffMax:  params.BackoffMax,
		},
		batchSize:   batchSize,
		tick:        tick,
		lastSyncKey: lastSyncKey,
		onAck:       params.OnAck,
		onEvict:     params.OnEvict,
		now:         time.Now,
	}, nil
}

// Run flushes on connectivity transitions to online and on a steady tick
// until the context is canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	var changes <-chan bool
	if c.monitor != nil {
		changes = c.monitor.Changes()
	}

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	if c.online() {
		if err := c.Flush(ctx); err != nil {
			c.logg.Error(ctx, "initial flush failed", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			c.logg.Info(ctx, "sync coordinator stopped")
			return ctx.Err()
		case online, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if !online {
				continue
			}
			if err := c.Flush(ctx); err != nil {
				c.logg.Error(ctx, "flush after reconnect failed", err)
			}
		case <-ticker.C:
			if !c.online() {
				continue
			}
			if err := c.Flush(ctx); err != nil {
				c.logg.Error(ctx, "scheduled flush failed", err)
			}
		}
	}
}

// online treats a missing monitor as online and lets the remote call fail.
func (c *Coordinator) online() bool {
	if c.monitor == nil {
		return true
	}
	return c.monitor.Online()
}

// Flush drains the queue now. A concurrent flush request is coalesced into
// "run again after the current drain completes".
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.draining {
		c.rerun = true
		c.mu.Unlock()
		return nil
	}
	c.draining = true
	c.mu.Unlock()

	var err error
	for {
		err = c.drain(ctx)

		c.mu.Lock()
		if c.rerun && err == nil {
			c.rerun = false
			c.mu.Unlock()
			continue
		}
		c.rerun = false
		c.draining = false
		c.mu.Unlock()
		return err
	}
}

// AsyncFlusher exposes Flush as a non-blocking request, for write paths that
// must not wait on a drain. The drain runs detached from the caller's
// cancellation; failures surface through the coordinator's own logging.
type AsyncFlusher struct {
	Coordinator *Coordinator
}

func (f AsyncFlusher) Flush(ctx context.Context) error {
	go func() {
		if err := f.Coordinator.Flush(context.WithoutCancel(ctx)); err != nil {
			f.Coordinator.logg.Error(ctx, "requested flush failed", err)
		}
	}()
	return nil
}

// drain processes queued operations oldest-first, sequentially, awaiting
// each remote write so enqueue order is preserved. A transient failure ends
// the cycle (the operation stays queued); a permanent failure evicts the
// operation and the cycle moves on.
func (c *Coordinator) drain(ctx context.Context) error {
	start := c.now()
	clean := true

	for {
		ops, err := c.queue.OldestFirst(ctx, c.batchSize)
		if err != nil {
			return fmt.Errorf("load queue: %w", err)
		}
		if len(ops) == 0 {
			break
		}

		progressed := false
		for i := range ops {
			op := ops[i]
			done, opErr := c.processOp(ctx, op)
			if opErr != nil {
				return opErr
			}
			if !done {
				c.finishDrain(ctx, start, false)
				return nil
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}

	c.finishDrain(ctx, start, clean)
	return nil
}

func (c *Coordinator) finishDrain(ctx context.Context, start time.Time, clean bool) {
	c.metrics.ObserveDrain(c.now().Sub(start))
	if depth, err := c.queue.Count(ctx); err == nil {
		c.metrics.SetQueueDepth(depth)
	}
	if !clean || c.meta == nil {
		return
	}
	stamp := c.now().UTC().Format(time.RFC3339)
	if err := c.meta.SetMeta(ctx, c.lastSyncKey, stamp); err != nil {
		c.logg.Error(ctx, "record last sync timestamp", err)
	}
}

// processOp pushes one operation. The bool result reports whether the drain
// should continue; the error is fatal (local store) only.
//
// Two retry bounds layer here on purpose. The backoff combinator absorbs
// short transient blips within this drain; when it gives up, the queue
// records exactly one persisted attempt, and the attempts ceiling bounds how
// many drains an operation may fail across before eviction. An outage that
// spans whole drains therefore costs one persisted attempt per drain, not
// one per remote call.
func (c *Coordinator) processOp(ctx context.Context, op queue.PendingOperation) (bool, error) {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"op_id":       op.ID.String(),
		"action":      op.Action,
		"entity_kind": op.EntityKind,
		"entity_id":   op.EntityID,
		"attempts":    op.Attempts,
	})

	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.apply(ctx, op)
	})
	if err == nil {
		if ackErr := c.queue.Ack(ctx, op.ID); ackErr != nil {
			return false, fmt.Errorf("ack %s: %w", op.ID, ackErr)
		}
		c.metrics.IncAcked()
		if c.onAck != nil {
			c.onAck(ctx, op, nil)
		}
		c.logg.Debug(logCtx, "operation acknowledged")
		return true, nil
	}

	if !pkgerrors.IsRetryable(err) || remote.IsNotFound(err) {
		return c.evict(logCtx, op, err)
	}

	failed, failErr := c.queue.Fail(ctx, op.ID, err)
	if failErr != nil {
		return false, fmt.Errorf("record failure %s: %w", op.ID, failErr)
	}
	c.metrics.IncFailed()

	if failed.Attempts >= c.maxAttempts {
		return c.evict(logCtx, *failed, err)
	}

	c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "operation failed, staying queued")
	return false, nil
}

// evict abandons an operation past recovery. The local and remote copies
// diverge by design until a manual resync; the abandonment is surfaced
// through the callback and metrics, never silently dropped.
func (c *Coordinator) evict(ctx context.Context, op queue.PendingOperation, cause error) (bool, error) {
	evicted, err := c.queue.Evict(ctx, op.ID, cause)
	if err != nil {
		return false, fmt.Errorf("evict %s: %w", op.ID, err)
	}
	c.metrics.IncAbandoned()
	if c.onEvict != nil {
		c.onEvict(ctx, *evicted, cause)
	}
	c.logg.Error(ctx, "operation abandoned", cause)
	return true, nil
}

// apply issues the remote mutation for one operation.
func (c *Coordinator) apply(ctx context.Context, op queue.PendingOperation) error {
	switch op.Action {
	case enums.OpActionCreate:
		return c.remote.Set(ctx, op.EntityKind, op.EntityID, op.Payload)
	case enums.OpActionUpdate:
		return c.remote.Update(ctx, op.EntityKind, op.EntityID, op.Payload)
	case enums.OpActionDelete:
		return c.remote.Delete(ctx, op.EntityKind, op.EntityID)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown action %q", op.Action))
	}
}
