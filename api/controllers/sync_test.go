package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fieldbook/fieldbook-sync/internal/queue"
)

type stubStatusSource struct {
	pending  int64
	lastSync string
}

func (s *stubStatusSource) PendingCount(ctx context.Context) (int64, error) { return s.pending, nil }
func (s *stubStatusSource) LastSyncAt(ctx context.Context) (string, error)  { return s.lastSync, nil }

type stubOnline struct{ online bool }

func (s *stubOnline) Online() bool { return s.online }

type stubFlusher struct {
	called bool
	err    error
}

func (s *stubFlusher) Flush(ctx context.Context) error {
	s.called = true
	return s.err
}

type stubLister struct {
	ops []queue.PendingOperation
}

func (s *stubLister) List(ctx context.Context) ([]queue.PendingOperation, error) {
	return s.ops, nil
}

func TestSyncStatusReportsQueueAndConnectivity(t *testing.T) {
	source := &stubStatusSource{pending: 4, lastSync: "2026-08-31T10:00:00Z"}
	req := httptest.NewRequest(http.MethodGet, "/sync/status", nil)
	rec := httptest.NewRecorder()

	SyncStatus(source, &stubOnline{online: true}, testControllerLogger()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Data struct {
			Online       bool   `json:"online"`
			PendingCount int64  `json:"pending_count"`
			LastSyncAt   string `json:"last_sync_at"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !body.Data.Online || body.Data.PendingCount != 4 {
		t.Fatalf("unexpected status %+v", body.Data)
	}
	if body.Data.LastSyncAt != "2026-08-31T10:00:00Z" {
		t.Fatalf("unexpected last sync %q", body.Data.LastSyncAt)
	}
}

func TestSyncQueueListsPendingOperations(t *testing.T) {
	lister := &stubLister{ops: []queue.PendingOperation{{EntityKind: "orders", EntityID: "o-1"}}}
	req := httptest.NewRequest(http.MethodGet, "/sync/queue", nil)
	rec := httptest.NewRecorder()

	SyncQueue(lister, testControllerLogger()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSyncFlushTriggersDrain(t *testing.T) {
	flusher := &stubFlusher{}
	req := httptest.NewRequest(http.MethodPost, "/sync/flush", nil)
	rec := httptest.NewRecorder()

	SyncFlush(flusher, testControllerLogger()).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if !flusher.called {
		t.Fatalf("expected Flush to be invoked")
	}
}

func TestSyncFlushSurfacesFailure(t *testing.T) {
	flusher := &stubFlusher{err: errors.New("drain already aborted")}
	req := httptest.NewRequest(http.MethodPost, "/sync/flush", nil)
	rec := httptest.NewRecorder()

	SyncFlush(flusher, testControllerLogger()).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
