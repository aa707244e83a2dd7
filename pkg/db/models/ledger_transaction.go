package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldbook/fieldbook-sync/pkg/enums"
)

// LedgerTransaction records one immutable cash-affecting event. Sales carry
// positive net cash; returns carry negative net cash. At most one sale-type
// transaction may exist per order (enforced by a partial unique index plus
// the check-then-insert in the ledger service).
type LedgerTransaction struct {
	ID                   uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RegionID             string                `gorm:"column:region_id;not null" json:"region_id"`
	PartyID              uuid.UUID             `gorm:"column:party_id;type:uuid;not null" json:"party_id"`
	PartyName            string                `gorm:"column:party_name;not null" json:"party_name"`
	OrderID              *uuid.UUID            `gorm:"column:order_id;type:uuid" json:"order_id,omitempty"`
	Type                 enums.TransactionType `gorm:"column:type;type:transaction_type_enum;not null" json:"type"`
	GrossAmount          decimal.Decimal       `gorm:"column:gross_amount;type:numeric(14,2);not null" json:"gross_amount"`
	DiscountAllowed      decimal.Decimal       `gorm:"column:discount_allowed;type:numeric(14,2);not null;default:0" json:"discount_allowed"`
	DiscountGiven        decimal.Decimal       `gorm:"column:discount_given;type:numeric(14,2);not null;default:0" json:"discount_given"`
	UnauthorizedDiscount decimal.Decimal       `gorm:"column:unauthorized_discount;type:numeric(14,2);not null;default:0" json:"unauthorized_discount"`
	NetCash              decimal.Decimal       `gorm:"column:net_cash;type:numeric(14,2);not null" json:"net_cash"`
	CreatedAt            time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName maps the struct onto the ledger_transactions collection.
func (LedgerTransaction) TableName() string { return "ledger_transactions" }
