package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldbook/fieldbook-sync/pkg/db"
	"github.com/fieldbook/fieldbook-sync/pkg/db/models"
	"github.com/fieldbook/fieldbook-sync/pkg/enums"
	pkgerrors "github.com/fieldbook/fieldbook-sync/pkg/errors"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// saleDedupIndex backs the one-sale-per-order rule at the database level.
const saleDedupIndex = "ux_ledger_sale_per_order"

// transactionStore is the repository surface the service needs.
type transactionStore interface {
	Create(ctx context.Context, tx *models.LedgerTransaction) error
	FindSaleByOrder(ctx context.Context, orderID uuid.UUID) (*models.LedgerTransaction, error)
}

// SaleInput describes a delivered order to be posted to the ledger.
type SaleInput struct {
	RegionID        string          `json:"region_id" validate:"required"`
	PartyID         uuid.UUID       `json:"party_id" validate:"required"`
	PartyName       string          `json:"party_name" validate:"required"`
	OrderID         uuid.UUID       `json:"order_id" validate:"required"`
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	DiscountAllowed decimal.Decimal `json:"discount_allowed"`
	DiscountGiven   decimal.Decimal `json:"discount_given"`
}

// ReturnInput describes a stock return that credits the party.
type ReturnInput struct {
	RegionID  string          `json:"region_id" validate:"required"`
	PartyID   uuid.UUID       `json:"party_id" validate:"required"`
	PartyName string          `json:"party_name" validate:"required"`
	OrderID   *uuid.UUID      `json:"order_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

// Service posts transactions to the ledger. Sales are idempotent per order;
// returns and adjustments are not deduplicated.
type Service struct {
	repo transactionStore
	logg *logger.Logger
}

func NewService(repo transactionStore, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// RecordSale posts the sale transaction for a delivered order exactly once.
// Re-posting the same order returns the existing transaction unchanged no
// matter which replica or retry got there first.
func (s *Service) RecordSale(ctx context.Context, input SaleInput) (*models.LedgerTransaction, error) {
	if err := validateSale(input); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindSaleByOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logg.Debug(s.logg.WithField(ctx, "order_id", input.OrderID.String()), "sale already posted")
		return existing, nil
	}

	unauthorized := input.DiscountGiven.Sub(input.DiscountAllowed)
	if unauthorized.IsNegative() {
		unauthorized = decimal.Zero
	}

	orderID := input.OrderID
	tx := &models.LedgerTransaction{
		ID:                   uuid.New(),
		RegionID:             input.RegionID,
		PartyID:              input.PartyID,
		PartyName:            input.PartyName,
		OrderID:              &orderID,
		Type:                 enums.TransactionTypeSaleDelivered,
		GrossAmount:          input.GrossAmount,
		DiscountAllowed:      input.DiscountAllowed,
		DiscountGiven:        input.DiscountGiven,
		UnauthorizedDiscount: unauthorized,
		NetCash:              input.GrossAmount.Sub(input.DiscountGiven),
	}

	if err := s.repo.Create(ctx, tx); err != nil {
		// Lost the race to a concurrent replica: the winner's row is
		// the authoritative one.
		if db.IsUniqueViolation(err, saleDedupIndex) {
			winner, findErr := s.repo.FindSaleByOrder(ctx, input.OrderID)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}
	return tx, nil
}

// RecordReturn posts a return. Net cash is negative; multiple returns per
// order are legitimate (partial returns), so no dedup applies.
func (s *Service) RecordReturn(ctx context.Context, input ReturnInput) (*models.LedgerTransaction, error) {
	if input.RegionID == "" || input.PartyID == uuid.Nil || input.PartyName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "region, party id and party name are required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return amount must be positive")
	}

	tx := &models.LedgerTransaction{
		ID:        uuid.New(),
		RegionID:  input.RegionID,
		PartyID:   input.PartyID,
		PartyName: input.PartyName,
		OrderID:   input.OrderID,
		Type:      enums.TransactionTypeReturn,
		NetCash:   input.Amount.Neg(),
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// RecordAdjustment posts a manual correction with an explicit signed amount.
func (s *Service) RecordAdjustment(ctx context.Context, regionID string, partyID uuid.UUID, partyName string, amount decimal.Decimal) (*models.LedgerTransaction, error) {
	if regionID == "" || partyID == uuid.Nil || partyName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "region, party id and party name are required")
	}
	tx := &models.LedgerTransaction{
		ID:        uuid.New(),
		RegionID:  regionID,
		PartyID:   partyID,
		PartyName: partyName,
		Type:      enums.TransactionTypeAdjustment,
		NetCash:   amount,
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func validateSale(input SaleInput) error {
	if input.RegionID == "" || input.PartyID == uuid.Nil || input.PartyName == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "region, party id and party name are required")
	}
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if input.GrossAmount.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "gross amount may not be negative")
	}
	if input.DiscountGiven.IsNegative() || input.DiscountAllowed.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "discounts may not be negative")
	}
	if input.DiscountGiven.GreaterThan(input.GrossAmount) {
		return pkgerrors.New(pkgerrors.CodeValidation, "discount given exceeds gross amount")
	}
	return nil
}
