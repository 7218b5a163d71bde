package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clearpix/billing-backend/pkg/enums"
)

// Subscription persists Stripe subscription state per user. PriceID always
// reflects the currently billed tier; ScheduledPriceID tracks a pending
// downgrade that takes effect at a future renewal and is never applied early.
type Subscription struct {
	ID                  string                   `gorm:"column:id;primaryKey"`
	UserID              uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	Status              enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	PriceID             string                   `gorm:"column:price_id;not null"`
	ScheduledPriceID    *string                  `gorm:"column:scheduled_price_id"`
	ScheduledChangeDate *time.Time               `gorm:"column:scheduled_change_date"`
	CurrentPeriodStart  time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd    time.Time                `gorm:"column:current_period_end;not null"`
	TrialEnd            *time.Time               `gorm:"column:trial_end"`
	CancelAtPeriodEnd   bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt          *time.Time               `gorm:"column:canceled_at"`
	Metadata            json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	CreatedAt           time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
