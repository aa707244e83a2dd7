package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fieldbook/fieldbook-sync/internal/queue"
	"github.com/fieldbook/fieldbook-sync/internal/remote"
	"github.com/fieldbook/fieldbook-sync/pkg/enums"
	pkgerrors "github.com/fieldbook/fieldbook-sync/pkg/errors"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

type fakeQueue struct {
	ops     []queue.PendingOperation
	acked   []uuid.UUID
	evicted []uuid.UUID
	loads   int
}

func (f *fakeQueue) OldestFirst(ctx context.Context, limit int) ([]queue.PendingOperation, error) {
	f.loads++
	if limit > len(f.ops) {
		limit = len(f.ops)
	}
	out := make([]queue.PendingOperation, limit)
	copy(out, f.ops[:limit])
	return out, nil
}

func (f *fakeQueue) Ack(ctx context.Context, id uuid.UUID) error {
	f.acked = append(f.acked, id)
	f.remove(id)
	return nil
}

func (f *fakeQueue) Fail(ctx context.Context, id uuid.UUID, attemptErr error) (*queue.PendingOperation, error) {
	for i := range f.ops {
		if f.ops[i].ID == id {
			f.ops[i].Attempts++
			msg := attemptErr.Error()
			f.ops[i].LastError = &msg
			op := f.ops[i]
			return &op, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeQueue) Evict(ctx context.Context, id uuid.UUID, reason error) (*queue.PendingOperation, error) {
	for i := range f.ops {
		if f.ops[i].ID == id {
			op := f.ops[i]
			if reason != nil {
				msg := reason.Error()
				op.LastError = &msg
			}
			f.evicted = append(f.evicted, id)
			f.remove(id)
			return &op, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeQueue) Count(ctx context.Context) (int64, error) {
	return int64(len(f.ops)), nil
}

func (f *fakeQueue) remove(id uuid.UUID) {
	for i := range f.ops {
		if f.ops[i].ID == id {
			f.ops = append(f.ops[:i], f.ops[i+1:]...)
			return
		}
	}
}

type fakeRemote struct {
	setErr  func(collection, id string) error
	applied []string
}

func (f *fakeRemote) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRemote) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRemote) Query(ctx context.Context, collection string, filters []remote.Filter) ([]json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRemote) Set(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if f.setErr != nil {
		if err := f.setErr(collection, id); err != nil {
			return err
		}
	}
	f.applied = append(f.applied, "set:"+id)
	return nil
}

func (f *fakeRemote) Update(ctx context.Context, collection, id string, doc json.RawMessage) error {
	f.applied = append(f.applied, "update:"+id)
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, collection, id string) error {
	f.applied = append(f.applied, "delete:"+id)
	return nil
}

func (f *fakeRemote) BatchDelete(ctx context.Context, collection string, ids []string) error {
	return nil
}

func (f *fakeRemote) Ping(ctx context.Context) error { return nil }

type fakeMeta struct {
	values map[string]string
}

func (f *fakeMeta) SetMeta(ctx context.Context, key, value string) error {
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[key] = value
	return nil
}

func pendingOp(action enums.OpAction, entityID string) queue.PendingOperation {
	return queue.PendingOperation{
		ID:         uuid.New(),
		Action:     action,
		EntityKind: "orders",
		EntityID:   entityID,
		Payload:    json.RawMessage(`{}`),
	}
}

func newTestCoordinator(t *testing.T, q *fakeQueue, r *fakeRemote, meta *fakeMeta) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(Params{
		Logger:      logger.New(logger.Options{ServiceName: "test"}),
		Queue:       q,
		Remote:      r,
		Meta:        meta,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

func TestFlushDrainsOldestFirstAndStampsLastSync(t *testing.T) {
	q := &fakeQueue{ops: []queue.PendingOperation{
		pendingOp(enums.OpActionCreate, "o-1"),
		pendingOp(enums.OpActionUpdate, "o-2"),
		pendingOp(enums.OpActionDelete, "o-3"),
	}}
	r := &fakeRemote{}
	meta := &fakeMeta{}
	c := newTestCoordinator(t, q, r, meta)

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := []string{"set:o-1", "update:o-2", "delete:o-3"}
	if len(r.applied) != len(want) {
		t.Fatalf("expected %d applied ops, got %v", len(want), r.applied)
	}
	for i, op := range want {
		if r.applied[i] != op {
			t.Fatalf("expected op %d to be %s, got %s", i, op, r.applied[i])
		}
	}
	if len(q.ops) != 0 {
		t.Fatalf("expected empty queue, got %d", len(q.ops))
	}
	if meta.values["last_sync_at"] == "" {
		t.Fatal("expected last_sync_at to be stamped after a clean drain")
	}
}

func TestTransientFailureStopsDrainAndKeepsOperation(t *testing.T) {
	ops := []queue.PendingOperation{
		pendingOp(enums.OpActionCreate, "o-1"),
		pendingOp(enums.OpActionCreate, "o-2"),
	}
	q := &fakeQueue{ops: ops}
	r := &fakeRemote{setErr: func(_, id string) error {
		if id == "o-1" {
			return pkgerrors.New(pkgerrors.CodeDependency, "store unreachable")
		}
		return nil
	}}
	meta := &fakeMeta{}
	c := newTestCoordinator(t, q, r, meta)

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(q.ops) != 2 {
		t.Fatalf("expected both operations queued, got %d", len(q.ops))
	}
	if q.ops[0].Attempts != 1 {
		t.Fatalf("expected 1 attempt recorded, got %d", q.ops[0].Attempts)
	}
	for _, applied := range r.applied {
		if applied == "set:o-2" {
			t.Fatal("drain should stop before o-2 after a transient failure")
		}
	}
	if meta.values["last_sync_at"] != "" {
		t.Fatal("last_sync_at must not be stamped after a dirty drain")
	}
}

func TestPermanentFailureEvictsImmediatelyAndContinues(t *testing.T) {
	ops := []queue.PendingOperation{
		pendingOp(enums.OpActionCreate, "o-1"),
		pendingOp(enums.OpActionCreate, "o-2"),
	}
	q := &fakeQueue{ops: ops}
	r := &fakeRemote{setErr: func(_, id string) error {
		if id == "o-1" {
			return pkgerrors.New(pkgerrors.CodeForbidden, "permission denied")
		}
		return nil
	}}
	meta := &fakeMeta{}

	var surfaced []queue.PendingOperation
	c := newTestCoordinator(t, q, r, meta)
	c.onEvict = func(ctx context.Context, op queue.PendingOperation, err error) {
		surfaced = append(surfaced, op)
	}

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(q.evicted) != 1 {
		t.Fatalf("expected 1 eviction, got %d", len(q.evicted))
	}
	if len(surfaced) != 1 || surfaced[0].EntityID != "o-1" {
		t.Fatalf("expected abandoned o-1 surfaced, got %+v", surfaced)
	}
	found := false
	for _, applied := range r.applied {
		if applied == "set:o-2" {
			found = true
		}
	}
	if !found {
		t.Fatal("drain should continue past a permanent failure")
	}
}

func TestEvictsAfterMaxAttempts(t *testing.T) {
	q := &fakeQueue{ops: []queue.PendingOperation{pendingOp(enums.OpActionCreate, "o-1")}}
	r := &fakeRemote{setErr: func(_, _ string) error {
		return pkgerrors.New(pkgerrors.CodeDependency, "store unreachable")
	}}
	c := newTestCoordinator(t, q, r, &fakeMeta{})

	var surfaced int
	c.onEvict = func(ctx context.Context, op queue.PendingOperation, err error) { surfaced++ }

	for range 3 {
		if err := c.Flush(context.Background()); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}

	if len(q.evicted) != 1 {
		t.Fatalf("expected eviction after max attempts, got %d", len(q.evicted))
	}
	if surfaced != 1 {
		t.Fatalf("expected abandonment surfaced once, got %d", surfaced)
	}
}

func TestTransientFailureRetriesInsideOneDrain(t *testing.T) {
	calls := 0
	q := &fakeQueue{ops: []queue.PendingOperation{pendingOp(enums.OpActionCreate, "o-1")}}
	r := &fakeRemote{setErr: func(_, _ string) error {
		calls++
		return pkgerrors.New(pkgerrors.CodeDependency, "store unreachable")
	}}
	c := newTestCoordinator(t, q, r, &fakeMeta{})

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// The backoff combinator owns the in-flight retries; the queue records
	// one persisted attempt per drain regardless of how many remote calls
	// the combinator made.
	if calls != 3 {
		t.Fatalf("expected 3 remote calls within one drain, got %d", calls)
	}
	if q.ops[0].Attempts != 1 {
		t.Fatalf("expected 1 persisted attempt after one drain, got %d", q.ops[0].Attempts)
	}
}

func TestAsyncFlusherReturnsBeforeDrainCompletes(t *testing.T) {
	release := make(chan struct{})
	q := &fakeQueue{ops: []queue.PendingOperation{pendingOp(enums.OpActionCreate, "o-1")}}
	r := &fakeRemote{setErr: func(_, _ string) error {
		<-release
		return nil
	}}
	c := newTestCoordinator(t, q, r, &fakeMeta{})

	drained := make(chan struct{})
	c.onAck = func(ctx context.Context, op queue.PendingOperation, err error) {
		close(drained)
	}

	// With the remote call blocked, a synchronous flush would hang here.
	f := AsyncFlusher{Coordinator: c}
	if err := f.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	close(release)
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the background drain to acknowledge the operation")
	}
}

func TestFlushDuringDrainCoalescesIntoRerun(t *testing.T) {
	q := &fakeQueue{ops: []queue.PendingOperation{pendingOp(enums.OpActionCreate, "o-1")}}
	r := &fakeRemote{}
	c := newTestCoordinator(t, q, r, &fakeMeta{})

	r.setErr = func(_, _ string) error {
		// A concurrent flush request must coalesce, not drain in parallel.
		if err := c.Flush(context.Background()); err != nil {
			t.Errorf("nested Flush: %v", err)
		}
		return nil
	}

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if q.loads < 2 {
		t.Fatalf("expected a rerun drain cycle, got %d loads", q.loads)
	}
}
