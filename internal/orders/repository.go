package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldbook/fieldbook-sync/internal/remote"
	"github.com/fieldbook/fieldbook-sync/pkg/db/models"
	"github.com/fieldbook/fieldbook-sync/pkg/enums"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// Repository reads orders through the remote store's document boundary.
type Repository struct {
	store remote.Store
	logg  *logger.Logger
}

func NewRepository(store remote.Store, logg *logger.Logger) *Repository {
	return &Repository{store: store, logg: logg}
}

// Get returns one order; remote.ErrNotFound when missing.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	doc, err := r.store.Get(ctx, remote.CollectionOrders, id.String())
	if err != nil {
		return nil, err
	}
	var order models.Order
	if err := json.Unmarshal(doc, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &order, nil
}

// Exists reports whether the order is present remotely.
func (r *Repository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := r.store.Get(ctx, remote.CollectionOrders, id.String())
	if remote.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListDelivered returns orders delivered within [from, to), optionally
// narrowed to a region. Falls back to a full scan when the store cannot
// evaluate the filter shape.
func (r *Repository) ListDelivered(ctx context.Context, from, to time.Time, regionID string) ([]models.Order, error) {
	filters := []remote.Filter{
		{Field: "status", Op: remote.FilterOpEqual, Value: string(enums.OrderStatusDelivered)},
		{Field: "delivered_at", Op: remote.FilterOpGreaterEqual, Value: from},
		{Field: "delivered_at", Op: remote.FilterOpLessEqual, Value: to},
	}
	if regionID != "" {
		filters = append(filters, remote.Filter{Field: "region_id", Op: remote.FilterOpEqual, Value: regionID})
	}
	docs, err := r.store.Query(ctx, remote.CollectionOrders, filters)
	if remote.IsUnsupportedFilter(err) {
		r.logg.Warn(ctx, "delivered-orders query unsupported, scanning collection")
		return r.scanDelivered(ctx, from, to, regionID)
	}
	if err != nil {
		return nil, err
	}
	return decodeOrders(docs)
}

// DeliveredTotals sums grand totals of delivered orders in the period; the
// fallback aggregate when the ledger is incomplete.
func (r *Repository) DeliveredTotals(ctx context.Context, from, to time.Time, regionID string) (decimal.Decimal, error) {
	delivered, err := r.ListDelivered(ctx, from, to, regionID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, order := range delivered {
		total = total.Add(order.GrandTotal)
	}
	return total, nil
}

func (r *Repository) scanDelivered(ctx context.Context, from, to time.Time, regionID string) ([]models.Order, error) {
	docs, err := r.store.List(ctx, remote.CollectionOrders)
	if err != nil {
		return nil, err
	}
	all, err := decodeOrders(docs)
	if err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(all))
	for _, order := range all {
		if order.Status != enums.OrderStatusDelivered || order.DeliveredAt == nil {
			continue
		}
		if order.DeliveredAt.Before(from) || order.DeliveredAt.After(to) {
			continue
		}
		if regionID != "" && order.RegionID != regionID {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

func decodeOrders(docs []json.RawMessage) ([]models.Order, error) {
	out := make([]models.Order, 0, len(docs))
	for _, doc := range docs {
		var order models.Order
		if err := json.Unmarshal(doc, &order); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		out = append(out, order)
	}
	return out, nil
}
