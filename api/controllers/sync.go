package controllers

import (
	"context"
	"net/http"

	"github.com/fieldbook/fieldbook-sync/api/responses"
	"github.com/fieldbook/fieldbook-sync/internal/queue"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// SyncStatusSource exposes the hybrid store's sync-related state.
type SyncStatusSource interface {
	PendingCount(ctx context.Context) (int64, error)
	LastSyncAt(ctx context.Context) (string, error)
}

// QueueLister exposes the pending queue for inspection.
type QueueLister interface {
	List(ctx context.Context) ([]queue.PendingOperation, error)
}

// OnlineChecker reports current connectivity.
type OnlineChecker interface {
	Online() bool
}

// Flusher triggers an immediate drain.
type Flusher interface {
	Flush(ctx context.Context) error
}

type syncStatus struct {
	Online       bool   `json:"online"`
	PendingCount int64  `json:"pending_count"`
	LastSyncAt   string `json:"last_sync_at,omitempty"`
}

// SyncStatus reports connectivity, queue depth, and the last clean drain.
func SyncStatus(source SyncStatusSource, online OnlineChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := source.PendingCount(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lastSync, err := source.LastSyncAt(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := syncStatus{
			PendingCount: pending,
			LastSyncAt:   lastSync,
		}
		if online != nil {
			status.Online = online.Online()
		}
		responses.WriteSuccess(w, status)
	}
}

// SyncQueue lists the pending operations oldest-first.
func SyncQueue(lister QueueLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ops, err := lister.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ops)
	}
}

// SyncFlush triggers a drain and returns once it completes or coalesces
// into one already running.
func SyncFlush(flusher Flusher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := flusher.Flush(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "flushed"})
	}
}
