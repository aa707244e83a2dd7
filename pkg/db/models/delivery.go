package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldbook/fieldbook-sync/pkg/enums"
)

// Delivery tracks the fulfillment of one order. An order has at most one
// delivery; duplicates are a defect repaired by the integrity cleanup job.
type Delivery struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID     uuid.UUID            `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	RegionID    string               `gorm:"column:region_id;not null" json:"region_id"`
	Status      enums.DeliveryStatus `gorm:"column:status;type:delivery_status_enum;not null;default:'assigned'" json:"status"`
	SyncStatus  enums.SyncStatus     `gorm:"column:sync_status;type:text;not null;default:'synced'" json:"sync_status"`
	DeliveredAt *time.Time           `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName maps the struct onto the deliveries collection.
func (Delivery) TableName() string { return "deliveries" }
