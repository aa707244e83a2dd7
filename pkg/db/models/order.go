package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldbook/fieldbook-sync/pkg/enums"
)

// Order is a booked order for a shop. Delivered orders are the fallback
// source for financial aggregates when the ledger is incomplete.
type Order struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ShopID        uuid.UUID         `gorm:"column:shop_id;type:uuid;not null" json:"shop_id"`
	RegionID      string            `gorm:"column:region_id;not null" json:"region_id"`
	Status        enums.OrderStatus `gorm:"column:status;type:order_status_enum;not null;default:'draft'" json:"status"`
	GrossTotal    decimal.Decimal   `gorm:"column:gross_total;type:numeric(14,2);not null" json:"gross_total"`
	DiscountTotal decimal.Decimal   `gorm:"column:discount_total;type:numeric(14,2);not null;default:0" json:"discount_total"`
	GrandTotal    decimal.Decimal   `gorm:"column:grand_total;type:numeric(14,2);not null" json:"grand_total"`
	SyncStatus    enums.SyncStatus  `gorm:"column:sync_status;type:text;not null;default:'synced'" json:"sync_status"`
	DeliveredAt   *time.Time        `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName maps the struct onto the orders collection.
func (Order) TableName() string { return "orders" }
