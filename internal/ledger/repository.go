package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldbook/fieldbook-sync/internal/remote"
	"github.com/fieldbook/fieldbook-sync/pkg/db/models"
	"github.com/fieldbook/fieldbook-sync/pkg/enums"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// Repository reads and writes ledger transactions through the remote store's
// document boundary.
type Repository struct {
	store remote.Store
	logg  *logger.Logger
}

func NewRepository(store remote.Store, logg *logger.Logger) *Repository {
	return &Repository{store: store, logg: logg}
}

// Create inserts one transaction. A duplicate sale for the same order
// surfaces as a unique violation from the store; callers handle that race.
func (r *Repository) Create(ctx context.Context, tx *models.LedgerTransaction) error {
	doc, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	return r.store.Set(ctx, remote.CollectionLedger, tx.ID.String(), doc)
}

// FindSaleByOrder returns the sale-type transaction for an order, nil when
// none exists.
func (r *Repository) FindSaleByOrder(ctx context.Context, orderID uuid.UUID) (*models.LedgerTransaction, error) {
	types := make([]any, 0, len(enums.SaleTransactionTypes))
	for _, t := range enums.SaleTransactionTypes {
		types = append(types, string(t))
	}
	docs, err := r.store.Query(ctx, remote.CollectionLedger, []remote.Filter{
		{Field: "order_id", Op: remote.FilterOpEqual, Value: orderID.String()},
		{Field: "type", Op: remote.FilterOpIn, Value: types},
	})
	if err != nil {
		return nil, err
	}
	txs, err := decodeTransactions(docs)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

// ListByPeriod returns transactions created within [from, to), optionally
// narrowed to a region. When the store rejects the filter shape the query
// degrades to a full scan filtered in memory.
func (r *Repository) ListByPeriod(ctx context.Context, from, to time.Time, regionID string) ([]models.LedgerTransaction, error) {
	filters := []remote.Filter{
		{Field: "created_at", Op: remote.FilterOpGreaterEqual, Value: from},
		{Field: "created_at", Op: remote.FilterOpLessEqual, Value: to},
	}
	if regionID != "" {
		filters = append(filters, remote.Filter{Field: "region_id", Op: remote.FilterOpEqual, Value: regionID})
	}
	docs, err := r.store.Query(ctx, remote.CollectionLedger, filters)
	if remote.IsUnsupportedFilter(err) {
		r.logg.Warn(ctx, "ledger period query unsupported, scanning collection")
		return r.scanPeriod(ctx, from, to, regionID)
	}
	if err != nil {
		return nil, err
	}
	return decodeTransactions(docs)
}

// ListByParty returns a party's transactions within [from, to).
func (r *Repository) ListByParty(ctx context.Context, partyID uuid.UUID, from, to time.Time) ([]models.LedgerTransaction, error) {
	docs, err := r.store.Query(ctx, remote.CollectionLedger, []remote.Filter{
		{Field: "party_id", Op: remote.FilterOpEqual, Value: partyID.String()},
		{Field: "created_at", Op: remote.FilterOpGreaterEqual, Value: from},
		{Field: "created_at", Op: remote.FilterOpLessEqual, Value: to},
	})
	if remote.IsUnsupportedFilter(err) {
		r.logg.Warn(ctx, "ledger party query unsupported, scanning collection")
		all, scanErr := r.scanPeriod(ctx, from, to, "")
		if scanErr != nil {
			return nil, scanErr
		}
		out := all[:0]
		for _, tx := range all {
			if tx.PartyID == partyID {
				out = append(out, tx)
			}
		}
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeTransactions(docs)
}

// ListAll returns the full collection, oldest first.
func (r *Repository) ListAll(ctx context.Context) ([]models.LedgerTransaction, error) {
	docs, err := r.store.List(ctx, remote.CollectionLedger)
	if err != nil {
		return nil, err
	}
	return decodeTransactions(docs)
}

// DeleteBatch removes transactions by id.
func (r *Repository) DeleteBatch(ctx context.Context, ids []uuid.UUID) error {
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}
	return r.store.BatchDelete(ctx, remote.CollectionLedger, raw)
}

func (r *Repository) scanPeriod(ctx context.Context, from, to time.Time, regionID string) ([]models.LedgerTransaction, error) {
	all, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.LedgerTransaction, 0, len(all))
	for _, tx := range all {
		if tx.CreatedAt.Before(from) || tx.CreatedAt.After(to) {
			continue
		}
		if regionID != "" && tx.RegionID != regionID {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func decodeTransactions(docs []json.RawMessage) ([]models.LedgerTransaction, error) {
	out := make([]models.LedgerTransaction, 0, len(docs))
	for _, doc := range docs {
		var tx models.LedgerTransaction
		if err := json.Unmarshal(doc, &tx); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, nil
}
