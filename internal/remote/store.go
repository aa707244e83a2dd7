package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// Collection names understood by the remote store.
const (
	CollectionShops      = "shops"
	CollectionOrders     = "orders"
	CollectionDeliveries = "deliveries"
	CollectionLedger     = "ledger_transactions"
)

var (
	// ErrNotFound signals the document does not exist in the collection.
	ErrNotFound = errors.New("remote: document not found")
	// ErrUnsupportedFilter signals the store cannot evaluate the filter
	// combination server-side; callers fall back to client-side filtering.
	ErrUnsupportedFilter = errors.New("remote: unsupported filter combination")
	// ErrUnknownCollection signals a collection name the store has no mapping for.
	ErrUnknownCollection = errors.New("remote: unknown collection")
)

// FilterOp enumerates the comparison operators the store may support.
type FilterOp string

const (
	FilterOpEqual        FilterOp = "=="
	FilterOpGreaterEqual FilterOp = ">="
	FilterOpLessEqual    FilterOp = "<="
	FilterOpIn           FilterOp = "in"
)

// Filter is one server-side predicate on a collection field.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Store is the remote document store collaborator. Documents cross this
// boundary as JSON; the codec normalizes legacy wire shapes on the way in.
type Store interface {
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	List(ctx context.Context, collection string) ([]json.RawMessage, error)
	Query(ctx context.Context, collection string, filters []Filter) ([]json.RawMessage, error)
	Set(ctx context.Context, collection, id string, doc json.RawMessage) error
	Update(ctx context.Context, collection, id string, doc json.RawMessage) error
	Delete(ctx context.Context, collection, id string) error
	BatchDelete(ctx context.Context, collection string, ids []string) error
	Ping(ctx context.Context) error
}

// IsUnsupportedFilter reports whether the error is the filter fallback signal.
func IsUnsupportedFilter(err error) bool {
	return errors.Is(err, ErrUnsupportedFilter)
}

// IsNotFound reports whether the error is the missing-document sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
