package hybrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fieldbook/fieldbook-sync/internal/connectivity"
	"github.com/fieldbook/fieldbook-sync/internal/localstore"
	"github.com/fieldbook/fieldbook-sync/internal/queue"
	"github.com/fieldbook/fieldbook-sync/internal/remote"
	"github.com/fieldbook/fieldbook-sync/pkg/enums"
	pkgerrors "github.com/fieldbook/fieldbook-sync/pkg/errors"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// Flusher requests a queue drain without blocking the caller's write path.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Params wire a hybrid store.
type Params struct {
	Logger  *logger.Logger
	Remote  remote.Store
	Local   *localstore.Store
	Queue   *queue.Queue
	Monitor connectivity.Monitor
	Flusher Flusher
}

// Store serves reads and writes local-first. Online reads refresh the local
// cache from the remote store; offline reads and every write land locally and
// writes are queued for the coordinator.
type Store struct {
	logg    *logger.Logger
	remote  remote.Store
	local   *localstore.Store
	queue   *queue.Queue
	monitor connectivity.Monitor
	flusher Flusher
}

// New validates the wiring; Flusher and Monitor are optional (nil means
// purely local operation until they are attached).
func New(params Params) (*Store, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Remote == nil {
		return nil, errors.New("remote store required")
	}
	if params.Local == nil {
		return nil, errors.New("local store required")
	}
	if params.Queue == nil {
		return nil, errors.New("queue required")
	}
	return &Store{
		logg:    params.Logger,
		remote:  params.Remote,
		local:   params.Local,
		queue:   params.Queue,
		monitor: params.Monitor,
		flusher: params.Flusher,
	}, nil
}

// AttachFlusher wires the drain-request path once the coordinator exists.
// The coordinator observes acks through this store, so the two are built in
// sequence and joined here.
func (s *Store) AttachFlusher(f Flusher) { s.flusher = f }

func (s *Store) online() bool {
	if s.monitor == nil {
		return true
	}
	return s.monitor.Online()
}

// List returns every document of a collection. Online it refreshes the local
// cache before answering; any remote failure degrades to the cached copy
// rather than surfacing an error to the caller.
func (s *Store) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	if s.online() {
		docs, err := s.remote.List(ctx, collection)
		if err == nil {
			s.refreshCache(ctx, collection, docs)
			return docs, nil
		}
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "remote list failed, serving cache")
	}
	return s.local.ListRecords(ctx, collection)
}

// Get returns one document, remote-first when online. A remote miss is
// authoritative; only transport failures fall back to the cache.
func (s *Store) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	if s.online() {
		doc, err := s.remote.Get(ctx, collection, id)
		if err == nil {
			if putErr := s.local.PutRecord(ctx, collection, id, doc); putErr != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", putErr.Error()), "cache refresh failed")
			}
			return doc, nil
		}
		if remote.IsNotFound(err) {
			return nil, err
		}
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "remote get failed, serving cache")
	}
	doc, err := s.local.GetRecord(ctx, collection, id)
	if errors.Is(err, localstore.ErrRecordNotFound) {
		return nil, remote.ErrNotFound
	}
	return doc, err
}

// Create persists the document locally and queues the remote write. The
// caller gets an acknowledgment as soon as the local write lands.
func (s *Store) Create(ctx context.Context, collection, id string, doc json.RawMessage) error {
	return s.write(ctx, enums.OpActionCreate, collection, id, doc)
}

// Update persists the document locally and queues the remote write,
// coalescing with any operation already pending for the same entity.
func (s *Store) Update(ctx context.Context, collection, id string, doc json.RawMessage) error {
	return s.write(ctx, enums.OpActionUpdate, collection, id, doc)
}

func (s *Store) write(ctx context.Context, action enums.OpAction, collection, id string, doc json.RawMessage) error {
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "document id required")
	}
	stamped, err := stampSyncStatus(doc, enums.SyncStatusPending)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid document payload")
	}
	if err := s.local.PutRecord(ctx, collection, id, stamped); err != nil {
		return fmt.Errorf("local write: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, action, collection, id, stamped); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	s.requestFlush(ctx)
	return nil
}

// Delete removes the document locally and queues the remote delete. Deleting
// an entity with a pending create still queues a delete; the remote store
// treats deleting a never-synced document as a no-op.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.local.DeleteRecord(ctx, collection, id); err != nil {
		return fmt.Errorf("local delete: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, enums.OpActionDelete, collection, id, nil); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	s.requestFlush(ctx)
	return nil
}

// PendingCount reports how many operations await sync, for surfacing in
// status endpoints.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	return s.queue.Count(ctx)
}

// LastSyncAt returns the recorded timestamp of the last clean drain, empty
// when no drain has completed yet.
func (s *Store) LastSyncAt(ctx context.Context) (string, error) {
	return s.local.GetMeta(ctx, localstore.MetaKeyLastSyncAt)
}

// MarkSynced flips the cached copy of an acknowledged entity to synced. Wired
// as the coordinator's ack callback.
func (s *Store) MarkSynced(ctx context.Context, op queue.PendingOperation, _ error) {
	if op.Action == enums.OpActionDelete {
		return
	}
	doc, err := s.local.GetRecord(ctx, op.EntityKind, op.EntityID)
	if err != nil {
		if !errors.Is(err, localstore.ErrRecordNotFound) {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "mark synced: load failed")
		}
		return
	}
	stamped, err := stampSyncStatus(doc, enums.SyncStatusSynced)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "mark synced: stamp failed")
		return
	}
	if err := s.local.PutRecord(ctx, op.EntityKind, op.EntityID, stamped); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "mark synced: store failed")
	}
}

func (s *Store) requestFlush(ctx context.Context) {
	if s.flusher == nil || !s.online() {
		return
	}
	if err := s.flusher.Flush(ctx); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "flush after write failed")
	}
}

func (s *Store) refreshCache(ctx context.Context, collection string, docs []json.RawMessage) {
	byID := make(map[string]json.RawMessage, len(docs))
	for _, doc := range docs {
		var probe struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(doc, &probe); err != nil || probe.ID == "" {
			continue
		}
		byID[probe.ID] = doc
	}
	if err := s.local.ReplaceNamespace(ctx, collection, byID); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cache refresh failed")
	}
}

// stampSyncStatus rewrites the document's sync_status field without
// disturbing the rest of the payload.
func stampSyncStatus(doc json.RawMessage, status enums.SyncStatus) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &fields); err != nil {
			return nil, err
		}
	}
	raw, err := json.Marshal(string(status))
	if err != nil {
		return nil, err
	}
	fields["sync_status"] = raw
	return json.Marshal(fields)
}
