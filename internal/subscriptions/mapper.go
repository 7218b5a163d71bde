package subscriptions

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v84"

	"github.com/clearpix/billing-backend/pkg/enums"
	pkgerrors "github.com/clearpix/billing-backend/pkg/errors"
)

var validate = validator.New()

// NormalizedSubscription is the canonical view of a provider subscription.
// Everything downstream of the webhook boundary works off this struct, never
// the raw provider payload.
type NormalizedSubscription struct {
	ID                 string                   `validate:"required"`
	CustomerID         string                   `validate:"required"`
	Status             enums.SubscriptionStatus `validate:"required"`
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	ScheduleID         string
	Metadata           map[string]string
}

// PreviousAttributes carries the pre-update values from an updated event.
// HasPriceID distinguishes "price did not change" from "price changed from
// empty"; only trust PriceID when it is set.
type PreviousAttributes struct {
	HasPriceID bool
	PriceID    string
	HasStatus  bool
	Status     enums.SubscriptionStatus
}

// NormalizeSubscription maps a Stripe subscription into the canonical view.
func NormalizeSubscription(sub *stripe.Subscription) (*NormalizedSubscription, error) {
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}

	status, err := mapStripeStatus(sub.Status)
	if err != nil {
		return nil, err
	}

	normalized := &NormalizedSubscription{
		ID:                sub.ID,
		Status:            status,
		PriceID:           determinePriceID(sub),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialEnd:          toTimePtr(sub.TrialEnd),
		CanceledAt:        toTimePtr(sub.CanceledAt),
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		normalized.CustomerID = sub.Customer.ID
	}
	if sub.Schedule != nil {
		normalized.ScheduleID = sub.Schedule.ID
	}

	startTS, endTS := periodFromSubscription(sub)
	normalized.CurrentPeriodStart = toTime(startTS)
	normalized.CurrentPeriodEnd = toTime(endTS)

	if err := validate.Struct(normalized); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "subscription payload incomplete")
	}
	return normalized, nil
}

// PreviousFromEvent parses the previous_attributes block of an updated
// event. Missing or unparseable blocks yield the zero value, which callers
// treat as "fall back to stored state".
func PreviousFromEvent(event *stripe.Event) PreviousAttributes {
	var prev PreviousAttributes
	if event == nil || event.Data == nil || len(event.Data.PreviousAttributes) == 0 {
		return prev
	}

	if rawStatus, ok := event.Data.PreviousAttributes["status"].(string); ok {
		if status, err := mapStripeStatus(stripe.SubscriptionStatus(rawStatus)); err == nil {
			prev.HasStatus = true
			prev.Status = status
		}
	}

	if priceID, ok := priceIDFromPreviousItems(event.Data.PreviousAttributes["items"]); ok {
		prev.HasPriceID = true
		prev.PriceID = priceID
	}
	return prev
}

// priceIDFromPreviousItems digs items.data[0].price.id out of the loosely
// typed previous_attributes map.
func priceIDFromPreviousItems(items any) (string, bool) {
	itemsMap, ok := items.(map[string]any)
	if !ok {
		return "", false
	}
	data, ok := itemsMap["data"].([]any)
	if !ok || len(data) == 0 {
		return "", false
	}
	first, ok := data[0].(map[string]any)
	if !ok {
		return "", false
	}
	price, ok := first["price"].(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := price["id"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func mapStripeStatus(status stripe.SubscriptionStatus) (enums.SubscriptionStatus, error) {
	switch status {
	case stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusTrialing, nil
	case stripe.SubscriptionStatusActive:
		return enums.SubscriptionStatusActive, nil
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return enums.SubscriptionStatusPastDue, nil
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusCanceled, nil
	case stripe.SubscriptionStatusIncomplete:
		return enums.SubscriptionStatusNone, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unknown subscription status "+string(status))
	}
}

func determinePriceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	if sub.Items.Data[0].Price != nil {
		return sub.Items.Data[0].Price.ID
	}
	return ""
}

func periodFromSubscription(sub *stripe.Subscription) (int64, int64) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0, 0
	}
	item := sub.Items.Data[0]
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}

func toTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func metadataJSON(meta map[string]string) json.RawMessage {
	if len(meta) == 0 {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(data)
}
