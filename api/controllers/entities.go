package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldbook/fieldbook-sync/api/responses"
	"github.com/fieldbook/fieldbook-sync/internal/remote"
	pkgerrors "github.com/fieldbook/fieldbook-sync/pkg/errors"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

const maxDocumentBytes = 1 << 20

// HybridStore is the local-first document surface the agent app talks to.
type HybridStore interface {
	List(ctx context.Context, collection string) ([]json.RawMessage, error)
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	Create(ctx context.Context, collection, id string, doc json.RawMessage) error
	Update(ctx context.Context, collection, id string, doc json.RawMessage) error
	Delete(ctx context.Context, collection, id string) error
}

var writableCollections = map[string]bool{
	remote.CollectionShops:      true,
	remote.CollectionOrders:     true,
	remote.CollectionDeliveries: true,
}

func collectionParam(r *http.Request) (string, error) {
	collection := chi.URLParam(r, "collection")
	if !writableCollections[collection] && collection != remote.CollectionLedger {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "unknown collection")
	}
	return collection, nil
}

// ListEntities serves a whole collection, from cache when offline.
func ListEntities(store HybridStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collection, err := collectionParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		docs, err := store.List(r.Context(), collection)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, docs)
	}
}

// GetEntity serves one document.
func GetEntity(store HybridStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collection, err := collectionParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		doc, err := store.Get(r.Context(), collection, chi.URLParam(r, "id"))
		if remote.IsNotFound(err) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "document not found"))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, doc)
	}
}

// PutEntity writes a document local-first. The ledger collection is not
// writable here; transactions are posted through the ledger service only.
func PutEntity(store HybridStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collection, id, doc, err := writeParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := store.Update(r.Context(), collection, id, doc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"id": id, "status": "accepted"})
	}
}

// PostEntity creates a document local-first.
func PostEntity(store HybridStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collection, id, doc, err := writeParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := store.Create(r.Context(), collection, id, doc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{"id": id, "status": "accepted"})
	}
}

// DeleteEntity removes a document local-first.
func DeleteEntity(store HybridStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collection, err := collectionParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !writableCollections[collection] {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "collection is read-only"))
			return
		}
		if err := store.Delete(r.Context(), collection, chi.URLParam(r, "id")); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "accepted"})
	}
}

func writeParams(r *http.Request) (string, string, json.RawMessage, error) {
	collection, err := collectionParam(r)
	if err != nil {
		return "", "", nil, err
	}
	if !writableCollections[collection] {
		return "", "", nil, pkgerrors.New(pkgerrors.CodeForbidden, "collection is read-only")
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		return "", "", nil, pkgerrors.New(pkgerrors.CodeValidation, "document id required")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		return "", "", nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read body")
	}
	if !json.Valid(body) {
		return "", "", nil, pkgerrors.New(pkgerrors.CodeValidation, "body is not valid JSON")
	}
	return collection, id, body, nil
}
