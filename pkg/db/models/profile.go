package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/clearpix/billing-backend/pkg/enums"
)

// Profile holds the per-user billing state: the Stripe customer linkage and
// the two credit pools. Rows are created by the account service; this
// subsystem only ever mutates them.
type Profile struct {
	ID                       uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email                    string                   `gorm:"column:email;not null"`
	StripeCustomerID         *string                  `gorm:"column:stripe_customer_id;uniqueIndex"`
	SubscriptionStatus       enums.SubscriptionStatus `gorm:"column:subscription_status;type:subscription_status;not null;default:'none'"`
	SubscriptionTier         string                   `gorm:"column:subscription_tier;not null;default:''"`
	SubscriptionCreditsBalance int64                  `gorm:"column:subscription_credits_balance;not null;default:0"`
	PurchasedCreditsBalance  int64                    `gorm:"column:purchased_credits_balance;not null;default:0"`
	CreatedAt                time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// TotalCredits returns the combined balance across both pools.
func (p *Profile) TotalCredits() int64 {
	if p == nil {
		return 0
	}
	return p.SubscriptionCreditsBalance + p.PurchasedCreditsBalance
}
