package enums

// SyncStatus tracks whether a locally held entity has been acknowledged by
// the remote store.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
)

// IsValid reports whether the value is a known sync status.
func (s SyncStatus) IsValid() bool {
	return s == SyncStatusPending || s == SyncStatusSynced
}
