package orders

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbook/fieldbook-sync/internal/remote"
	"github.com/fieldbook/fieldbook-sync/pkg/db/models"
	"github.com/fieldbook/fieldbook-sync/pkg/enums"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// fakeOrderStore rejects queries over the filter budget, mirroring the
// docstore's predicate validation, so the scan fallback is exercised.
type fakeOrderStore struct {
	orders       []models.Order
	maxFilters   int
	queryCalls   int
	listCalls    int
	rejectQuery  bool
	queriedShape []remote.Filter
}

func (f *fakeOrderStore) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	for _, order := range f.orders {
		if order.ID.String() == id {
			return json.Marshal(order)
		}
	}
	return nil, remote.ErrNotFound
}

func (f *fakeOrderStore) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	f.listCalls++
	var out []json.RawMessage
	for _, order := range f.orders {
		raw, err := json.Marshal(order)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (f *fakeOrderStore) Query(ctx context.Context, collection string, filters []remote.Filter) ([]json.RawMessage, error) {
	f.queryCalls++
	f.queriedShape = filters
	if f.rejectQuery || (f.maxFilters > 0 && len(filters) > f.maxFilters) {
		return nil, remote.ErrUnsupportedFilter
	}
	return f.List(ctx, collection)
}

func (f *fakeOrderStore) Set(ctx context.Context, collection, id string, doc json.RawMessage) error {
	return nil
}

func (f *fakeOrderStore) Update(ctx context.Context, collection, id string, doc json.RawMessage) error {
	return nil
}

func (f *fakeOrderStore) Delete(ctx context.Context, collection, id string) error { return nil }

func (f *fakeOrderStore) BatchDelete(ctx context.Context, collection string, ids []string) error {
	return nil
}

func (f *fakeOrderStore) Ping(ctx context.Context) error { return nil }

func newTestRepo(store *fakeOrderStore) *Repository {
	return NewRepository(store, logger.New(logger.Options{ServiceName: "test"}))
}

func orderAt(region string, status enums.OrderStatus, deliveredAt *time.Time, grand int64) models.Order {
	return models.Order{
		ID:          uuid.New(),
		ShopID:      uuid.New(),
		RegionID:    region,
		Status:      status,
		GrandTotal:  decimal.NewFromInt(grand),
		DeliveredAt: deliveredAt,
	}
}

func TestExists(t *testing.T) {
	order := orderAt("region-north", enums.OrderStatusDelivered, nil, 100)
	repo := newTestRepo(&fakeOrderStore{orders: []models.Order{order}})
	ctx := context.Background()

	ok, err := repo.Exists(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListDeliveredUsesServerSideQuery(t *testing.T) {
	store := &fakeOrderStore{orders: []models.Order{
		orderAt("region-north", enums.OrderStatusDelivered, nil, 100),
	}}
	repo := newTestRepo(store)

	_, err := repo.ListDelivered(context.Background(), time.Now().AddDate(0, -1, 0), time.Now(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, store.queryCalls)
	assert.Len(t, store.queriedShape, 3)
}

func TestListDeliveredWithRegionFallsBackToScan(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-time.Hour)
	stale := now.AddDate(0, -2, 0)

	inRegion := orderAt("region-north", enums.OrderStatusDelivered, &recent, 500)
	otherRegion := orderAt("region-south", enums.OrderStatusDelivered, &recent, 300)
	tooOld := orderAt("region-north", enums.OrderStatusDelivered, &stale, 200)
	notDelivered := orderAt("region-north", enums.OrderStatusConfirmed, nil, 100)

	store := &fakeOrderStore{
		orders:     []models.Order{inRegion, otherRegion, tooOld, notDelivered},
		maxFilters: 3,
	}
	repo := newTestRepo(store)

	// The region predicate pushes the shape past the store's filter budget.
	out, err := repo.ListDelivered(context.Background(), now.AddDate(0, -1, 0), now, "region-north")
	require.NoError(t, err)

	assert.Equal(t, 1, store.listCalls, "rejection must degrade to a scan")
	require.Len(t, out, 1)
	assert.Equal(t, inRegion.ID, out[0].ID)
}

func TestDeliveredTotals(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-time.Hour)
	store := &fakeOrderStore{
		orders: []models.Order{
			orderAt("region-north", enums.OrderStatusDelivered, &recent, 500),
			orderAt("region-north", enums.OrderStatusDelivered, &recent, 250),
		},
	}
	repo := newTestRepo(store)

	total, err := repo.DeliveredTotals(context.Background(), now.AddDate(0, -1, 0), now, "")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(750)))
}
