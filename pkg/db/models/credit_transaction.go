package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clearpix/billing-backend/pkg/enums"
)

// CreditTransaction is an append-only ledger entry. RefID correlates the
// entry with its causal webhook, invoice or checkout session; for any given
// grant ref id, the clawbacks referencing it never exceed the granted amount.
type CreditTransaction struct {
	ID           uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;index"`
	Amount       int64                       `gorm:"column:amount;not null"`
	BalanceAfter int64                       `gorm:"column:balance_after;not null"`
	Pool         enums.CreditPool            `gorm:"column:pool;type:credit_pool;not null"`
	Type         enums.CreditTransactionType `gorm:"column:type;type:credit_transaction_type;not null"`
	Description  string                      `gorm:"column:description;not null;default:''"`
	RefID        string                      `gorm:"column:ref_id;not null;index"`
	Metadata     json.RawMessage             `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time                   `gorm:"column:created_at;autoCreateTime"`
}
