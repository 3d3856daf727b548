package state

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// HistoryEntry is one row of the audit log: a single state transition for
// a run or task execution.
type HistoryEntry struct {
	ID         uint                   `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityType string                 `gorm:"type:varchar(50);not null;index:idx_state_history_entity" json:"entity_type"`
	EntityID   string                 `gorm:"type:varchar(255);not null;index:idx_state_history_entity" json:"entity_id"`
	OldState   string                 `gorm:"type:varchar(50)" json:"old_state"`
	NewState   string                 `gorm:"type:varchar(50);not null" json:"new_state"`
	ChangedAt  time.Time              `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_state_history_changed_at" json:"changed_at"`
	Metadata   jsonMetadata           `gorm:"type:jsonb" json:"metadata"`
}

func (HistoryEntry) TableName() string { return "state_history" }

// jsonMetadata mirrors storage's jsonColumn helper: a map serialized as a
// single JSONB column.
type jsonMetadata map[string]interface{}

func (j jsonMetadata) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *jsonMetadata) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("jsonMetadata: type assertion to []byte failed")
	}
	return json.Unmarshal(b, j)
}

// HistoryTracker persists TransitionEvents to a database table, an
// optional audit trail alongside the run/task rows a Store already keeps.
type HistoryTracker struct {
	db *gorm.DB
}

// NewHistoryTracker creates a tracker backed by db.
func NewHistoryTracker(db *gorm.DB) *HistoryTracker {
	return &HistoryTracker{db: db}
}

// Record appends one transition to the audit log.
func (h *HistoryTracker) Record(ctx context.Context, entityType, entityID, oldState, newState string, metadata map[string]interface{}) error {
	entry := HistoryEntry{
		EntityType: entityType,
		EntityID:   entityID,
		OldState:   oldState,
		NewState:   newState,
		ChangedAt:  time.Now().UTC(),
		Metadata:   metadata,
	}
	if err := h.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("recording state history: %w", err)
	}
	return nil
}

// GetHistory returns the most recent transitions for one entity.
func (h *HistoryTracker) GetHistory(ctx context.Context, entityType, entityID string, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	q := h.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("changed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("getting state history: %w", err)
	}
	return entries, nil
}

// HistoryPublisher adapts a HistoryTracker to the EventPublisher interface
// so it can sit alongside a RedisPublisher in a MultiPublisher.
type HistoryPublisher struct {
	tracker *HistoryTracker
}

// NewHistoryPublisher creates a publisher backed by db.
func NewHistoryPublisher(db *gorm.DB) *HistoryPublisher {
	return &HistoryPublisher{tracker: NewHistoryTracker(db)}
}

// Publish records event to the history table.
func (p *HistoryPublisher) Publish(event TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.tracker.Record(ctx, event.EntityType, event.EntityID, event.OldState, event.NewState, event.Metadata)
}
