package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldbook/fieldbook-sync/pkg/enums"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// PendingOperation is one not-yet-acknowledged remote mutation. The queue
// holds at most one row per (entity_kind, entity_id): later mutations for the
// same entity coalesce into the queued row instead of appending.
type PendingOperation struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Action     enums.OpAction  `gorm:"column:action;not null" json:"action"`
	EntityKind string          `gorm:"column:entity_kind;not null;uniqueIndex:ux_pending_entity,priority:1" json:"entity_kind"`
	EntityID   string          `gorm:"column:entity_id;not null;uniqueIndex:ux_pending_entity,priority:2" json:"entity_id"`
	Payload    json.RawMessage `gorm:"column:payload" json:"payload,omitempty"`
	Position   int64           `gorm:"column:position;not null" json:"position"`
	Attempts   int             `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError  *string         `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName fixes the sqlite table name.
func (PendingOperation) TableName() string { return "pending_operations" }

// Queue is the durable pending-operation queue. Every mutation is
// write-through: the sqlite row commits before the method returns, so the
// queue survives process restarts and the in-memory view never diverges.
type Queue struct {
	conn *gorm.DB
	logg *logger.Logger
}

// New migrates the queue table on the shared local-store connection.
func New(ctx context.Context, conn *gorm.DB, logg *logger.Logger) (*Queue, error) {
	if conn == nil {
		return nil, errors.New("local store connection required")
	}
	if err := conn.WithContext(ctx).AutoMigrate(&PendingOperation{}); err != nil {
		return nil, fmt.Errorf("migrating pending queue: %w", err)
	}
	return &Queue{conn: conn, logg: logg}, nil
}

// Enqueue records a mutation, coalescing with any queued operation for the
// same entity. It returns once the row is durably committed, not once synced.
func (q *Queue) Enqueue(ctx context.Context, action enums.OpAction, entityKind, entityID string, payload json.RawMessage) (*PendingOperation, error) {
	if !action.IsValid() {
		return nil, fmt.Errorf("invalid action %q", action)
	}
	if entityKind == "" || entityID == "" {
		return nil, errors.New("entity kind and id are required")
	}

	var op PendingOperation
	err := q.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing PendingOperation
		err := tx.Where("entity_kind = ? AND entity_id = ?", entityKind, entityID).
			First(&existing).Error
		switch {
		case err == nil:
			existing.Action = coalesceAction(existing.Action, action)
			existing.Payload = payload
			existing.Attempts = 0
			existing.LastError = nil
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("coalesce operation: %w", err)
			}
			op = existing
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			var next struct{ Position int64 }
			if err := tx.Model(&PendingOperation{}).
				Select("COALESCE(MAX(position), 0) + 1 AS position").
				Scan(&next).Error; err != nil {
				return fmt.Errorf("next position: %w", err)
			}
			op = PendingOperation{
				ID:         uuid.New(),
				Action:     action,
				EntityKind: entityKind,
				EntityID:   entityID,
				Payload:    payload,
				Position:   next.Position,
			}
			if err := tx.Create(&op).Error; err != nil {
				return fmt.Errorf("enqueue operation: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("lookup queued operation: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}

	if q.logg != nil {
		logCtx := q.logg.WithFields(ctx, map[string]any{
			"op_id":       op.ID.String(),
			"action":      op.Action,
			"entity_kind": op.EntityKind,
			"entity_id":   op.EntityID,
		})
		q.logg.Debug(logCtx, "operation queued")
	}
	return &op, nil
}

// coalesceAction folds a new mutation into a queued one. A delete always
// wins; a queued create keeps its create semantics under later edits because
// the remote store has never seen the entity.
func coalesceAction(existing, incoming enums.OpAction) enums.OpAction {
	if incoming == enums.OpActionDelete {
		return enums.OpActionDelete
	}
	if existing == enums.OpActionCreate {
		return enums.OpActionCreate
	}
	return incoming
}

// Ack removes an operation after the remote write succeeded.
func (q *Queue) Ack(ctx context.Context, id uuid.UUID) error {
	res := q.conn.WithContext(ctx).Where("id = ?", id).Delete(&PendingOperation{})
	if res.Error != nil {
		return fmt.Errorf("ack operation: %w", res.Error)
	}
	return nil
}

// Fail records a failed attempt, keeping the operation queued.
func (q *Queue) Fail(ctx context.Context, id uuid.UUID, attemptErr error) (*PendingOperation, error) {
	msg := ""
	if attemptErr != nil {
		msg = attemptErr.Error()
	}
	err := q.conn.WithContext(ctx).Model(&PendingOperation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("record failure: %w", err)
	}
	var op PendingOperation
	if err := q.conn.WithContext(ctx).Where("id = ?", id).First(&op).Error; err != nil {
		return nil, fmt.Errorf("reload operation: %w", err)
	}
	return &op, nil
}

// Evict removes an operation without a remote acknowledgment. The abandoned
// operation is returned with the failure recorded so callers can surface it.
func (q *Queue) Evict(ctx context.Context, id uuid.UUID, reason error) (*PendingOperation, error) {
	var op PendingOperation
	err := q.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&op).Error; err != nil {
			return fmt.Errorf("load operation: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&PendingOperation{}).Error; err != nil {
			return fmt.Errorf("evict operation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reason != nil {
		msg := reason.Error()
		op.LastError = &msg
	}
	return &op, nil
}

// OldestFirst returns up to limit operations in enqueue order.
func (q *Queue) OldestFirst(ctx context.Context, limit int) ([]PendingOperation, error) {
	var ops []PendingOperation
	tx := q.conn.WithContext(ctx).Order("position ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("list queued operations: %w", err)
	}
	return ops, nil
}

// List returns every queued operation in enqueue order.
func (q *Queue) List(ctx context.Context) ([]PendingOperation, error) {
	return q.OldestFirst(ctx, 0)
}

// Count returns the queue depth for UI indicators.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := q.conn.WithContext(ctx).Model(&PendingOperation{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count queued operations: %w", err)
	}
	return count, nil
}
