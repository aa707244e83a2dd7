package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fieldbook/fieldbook-sync/pkg/enums"
)

// Shop is a counterparty a field agent books orders against.
type Shop struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RegionID   string           `gorm:"column:region_id;not null" json:"region_id"`
	Name       string           `gorm:"column:name;not null" json:"name"`
	OwnerName  *string          `gorm:"column:owner_name" json:"owner_name,omitempty"`
	Phone      *string          `gorm:"column:phone" json:"phone,omitempty"`
	Tags       pq.StringArray   `gorm:"column:tags;type:text[]" json:"tags,omitempty"`
	SyncStatus enums.SyncStatus `gorm:"column:sync_status;type:text;not null;default:'synced'" json:"sync_status"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName maps the struct onto the shops collection.
func (Shop) TableName() string { return "shops" }
