package models

import (
	"encoding/json"
	"time"

	"github.com/clearpix/billing-backend/pkg/enums"
)

// WebhookEvent records one claimed provider delivery. EventID is the
// provider's globally unique event id; the unique index is what makes the
// claim operation atomic.
type WebhookEvent struct {
	EventID      string                   `gorm:"column:event_id;primaryKey"`
	EventType    string                   `gorm:"column:event_type;not null"`
	Status       enums.WebhookEventStatus `gorm:"column:status;type:webhook_event_status;not null;default:'processing'"`
	Payload      json.RawMessage          `gorm:"column:payload;type:jsonb"`
	ErrorMessage *string                  `gorm:"column:error_message"`
	CompletedAt  *time.Time               `gorm:"column:completed_at"`
	CreatedAt    time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
