package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbook/fieldbook-sync/pkg/db/models"
	"github.com/fieldbook/fieldbook-sync/pkg/enums"
	pkgerrors "github.com/fieldbook/fieldbook-sync/pkg/errors"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

type fakeTransactionStore struct {
	created   []*models.LedgerTransaction
	createErr error
	// winner simulates a concurrent writer that beat us to the unique
	// index: it becomes visible to lookups only after Create has failed,
	// matching the window between the pre-insert check and the insert.
	winner   *models.LedgerTransaction
	raceLost bool
}

func (f *fakeTransactionStore) Create(ctx context.Context, tx *models.LedgerTransaction) error {
	if f.createErr != nil {
		err := f.createErr
		f.createErr = nil
		f.raceLost = true
		return err
	}
	f.created = append(f.created, tx)
	return nil
}

func (f *fakeTransactionStore) FindSaleByOrder(ctx context.Context, orderID uuid.UUID) (*models.LedgerTransaction, error) {
	if f.raceLost && f.winner != nil && f.winner.OrderID != nil && *f.winner.OrderID == orderID {
		return f.winner, nil
	}
	for _, tx := range f.created {
		if tx.Type == enums.TransactionTypeSaleDelivered && tx.OrderID != nil && *tx.OrderID == orderID {
			return tx, nil
		}
	}
	return nil, nil
}

func newTestService(repo *fakeTransactionStore) *Service {
	return NewService(repo, logger.New(logger.Options{ServiceName: "test"}))
}

func saleInput() SaleInput {
	return SaleInput{
		RegionID:        "region-north",
		PartyID:         uuid.New(),
		PartyName:       "Acme Traders",
		OrderID:         uuid.New(),
		GrossAmount:     decimal.NewFromInt(1000),
		DiscountAllowed: decimal.NewFromInt(50),
		DiscountGiven:   decimal.NewFromInt(80),
	}
}

func TestRecordSaleDerivesAmounts(t *testing.T) {
	repo := &fakeTransactionStore{}
	svc := newTestService(repo)

	tx, err := svc.RecordSale(context.Background(), saleInput())
	require.NoError(t, err)

	assert.Equal(t, enums.TransactionTypeSaleDelivered, tx.Type)
	assert.True(t, tx.UnauthorizedDiscount.Equal(decimal.NewFromInt(30)), "unauthorized = given - allowed")
	assert.True(t, tx.NetCash.Equal(decimal.NewFromInt(920)), "net cash = gross - given")
	require.Len(t, repo.created, 1)
}

func TestRecordSaleUnauthorizedDiscountFloorsAtZero(t *testing.T) {
	repo := &fakeTransactionStore{}
	svc := newTestService(repo)

	input := saleInput()
	input.DiscountGiven = decimal.NewFromInt(20)

	tx, err := svc.RecordSale(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, tx.UnauthorizedDiscount.IsZero())
}

func TestRecordSaleIsIdempotentPerOrder(t *testing.T) {
	repo := &fakeTransactionStore{}
	svc := newTestService(repo)
	input := saleInput()

	first, err := svc.RecordSale(context.Background(), input)
	require.NoError(t, err)

	second, err := svc.RecordSale(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.created, 1, "re-posting must not insert a second row")
}

func TestRecordSaleLosingRaceReturnsWinner(t *testing.T) {
	input := saleInput()
	orderID := input.OrderID
	winner := &models.LedgerTransaction{
		ID:      uuid.New(),
		OrderID: &orderID,
		Type:    enums.TransactionTypeSaleDelivered,
	}
	repo := &fakeTransactionStore{
		createErr: fmt.Errorf("insert: %w", errors.New(`duplicate key value violates unique constraint "ux_ledger_sale_per_order"`)),
		winner:    winner,
	}
	svc := newTestService(repo)

	tx, err := svc.RecordSale(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, tx.ID)
	assert.Empty(t, repo.created)
}

func TestRecordSaleUnrelatedCreateErrorSurfaces(t *testing.T) {
	repo := &fakeTransactionStore{createErr: errors.New("connection refused")}
	svc := newTestService(repo)

	_, err := svc.RecordSale(context.Background(), saleInput())
	assert.Error(t, err)
}

func TestRecordSaleValidation(t *testing.T) {
	svc := newTestService(&fakeTransactionStore{})

	cases := map[string]func(*SaleInput){
		"missing region":         func(in *SaleInput) { in.RegionID = "" },
		"missing party":          func(in *SaleInput) { in.PartyID = uuid.Nil },
		"missing order":          func(in *SaleInput) { in.OrderID = uuid.Nil },
		"negative gross":         func(in *SaleInput) { in.GrossAmount = decimal.NewFromInt(-1) },
		"negative discount":      func(in *SaleInput) { in.DiscountGiven = decimal.NewFromInt(-5) },
		"discount exceeds gross": func(in *SaleInput) { in.DiscountGiven = decimal.NewFromInt(2000) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			input := saleInput()
			mutate(&input)
			_, err := svc.RecordSale(context.Background(), input)
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
		})
	}
}

func TestRecordReturnPostsNegativeNetCash(t *testing.T) {
	repo := &fakeTransactionStore{}
	svc := newTestService(repo)

	tx, err := svc.RecordReturn(context.Background(), ReturnInput{
		RegionID:  "region-north",
		PartyID:   uuid.New(),
		PartyName: "Acme Traders",
		Amount:    decimal.NewFromInt(150),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionTypeReturn, tx.Type)
	assert.True(t, tx.NetCash.Equal(decimal.NewFromInt(-150)))
}

func TestRecordReturnIsNotDeduplicated(t *testing.T) {
	repo := &fakeTransactionStore{}
	svc := newTestService(repo)
	orderID := uuid.New()
	input := ReturnInput{
		RegionID:  "region-north",
		PartyID:   uuid.New(),
		PartyName: "Acme Traders",
		OrderID:   &orderID,
		Amount:    decimal.NewFromInt(40),
	}

	_, err := svc.RecordReturn(context.Background(), input)
	require.NoError(t, err)
	_, err = svc.RecordReturn(context.Background(), input)
	require.NoError(t, err)

	assert.Len(t, repo.created, 2, "partial returns per order are legitimate")
}

func TestRecordReturnRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(&fakeTransactionStore{})

	_, err := svc.RecordReturn(context.Background(), ReturnInput{
		RegionID:  "region-north",
		PartyID:   uuid.New(),
		PartyName: "Acme Traders",
		Amount:    decimal.Zero,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}
