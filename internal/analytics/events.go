package analytics

import "time"

// Event names published to the analytics topic.
const (
	EventSubscriptionCreated  = "subscription_created"
	EventSubscriptionCanceled = "subscription_canceled"
	EventCreditsGranted       = "credits_granted"
	EventCreditsClawedBack    = "credits_clawed_back"
)

// SubscriptionEvent describes a subscription lifecycle change for the
// analytics pipeline.
type SubscriptionEvent struct {
	UserID         string    `json:"user_id"`
	SubscriptionID string    `json:"subscription_id"`
	PlanKey        string    `json:"plan_key"`
	PriceID        string    `json:"price_id"`
	Amount         string    `json:"amount,omitempty"`
	Interval       string    `json:"interval,omitempty"`
	Status         string    `json:"status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// CreditEvent describes a ledger mutation worth tracking downstream.
type CreditEvent struct {
	UserID     string    `json:"user_id"`
	Pool       string    `json:"pool"`
	Amount     int64     `json:"amount"`
	RefID      string    `json:"ref_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
