package subscriptions

import (
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/clearpix/billing-backend/pkg/enums"
)

func stripeSub() *stripe.Subscription {
	return &stripe.Subscription{
		ID:       "sub_123",
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: "cus_123"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					CurrentPeriodStart: 1735689600,
					CurrentPeriodEnd:   1738368000,
					Price:              &stripe.Price{ID: "price_pro"},
				},
			},
		},
		Metadata: map[string]string{"source": "checkout"},
	}
}

func TestNormalizeSubscription(t *testing.T) {
	dto, err := NormalizeSubscription(stripeSub())
	if err != nil {
		t.Fatalf("NormalizeSubscription: %v", err)
	}

	if dto.ID != "sub_123" || dto.CustomerID != "cus_123" {
		t.Fatalf("unexpected identity: %+v", dto)
	}
	if dto.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %q", dto.Status)
	}
	if dto.PriceID != "price_pro" {
		t.Fatalf("expected price_pro, got %q", dto.PriceID)
	}
	if dto.CurrentPeriodStart.IsZero() || dto.CurrentPeriodEnd.IsZero() {
		t.Fatal("expected period timestamps to be mapped")
	}
	if !dto.CurrentPeriodEnd.After(dto.CurrentPeriodStart) {
		t.Fatal("expected period end after start")
	}
}

func TestNormalizeSubscriptionStatusMapping(t *testing.T) {
	cases := []struct {
		in  stripe.SubscriptionStatus
		out enums.SubscriptionStatus
	}{
		{stripe.SubscriptionStatusTrialing, enums.SubscriptionStatusTrialing},
		{stripe.SubscriptionStatusActive, enums.SubscriptionStatusActive},
		{stripe.SubscriptionStatusPastDue, enums.SubscriptionStatusPastDue},
		{stripe.SubscriptionStatusUnpaid, enums.SubscriptionStatusPastDue},
		{stripe.SubscriptionStatusCanceled, enums.SubscriptionStatusCanceled},
		{stripe.SubscriptionStatusIncompleteExpired, enums.SubscriptionStatusCanceled},
		{stripe.SubscriptionStatusIncomplete, enums.SubscriptionStatusNone},
	}
	for _, tc := range cases {
		sub := stripeSub()
		sub.Status = tc.in
		dto, err := NormalizeSubscription(sub)
		if err != nil {
			t.Fatalf("status %q: %v", tc.in, err)
		}
		if dto.Status != tc.out {
			t.Fatalf("status %q: expected %q, got %q", tc.in, tc.out, dto.Status)
		}
	}
}

func TestNormalizeSubscriptionRejectsIncompletePayload(t *testing.T) {
	sub := stripeSub()
	sub.Customer = nil
	if _, err := NormalizeSubscription(sub); err == nil {
		t.Fatal("expected missing customer to be rejected")
	}

	if _, err := NormalizeSubscription(nil); err == nil {
		t.Fatal("expected nil subscription to be rejected")
	}
}

func TestNormalizeSubscriptionTrialEnd(t *testing.T) {
	sub := stripeSub()
	sub.Status = stripe.SubscriptionStatusTrialing
	sub.TrialEnd = 1738368000

	dto, err := NormalizeSubscription(sub)
	if err != nil {
		t.Fatalf("NormalizeSubscription: %v", err)
	}
	if dto.TrialEnd == nil {
		t.Fatal("expected trial end to be set")
	}
	if !dto.TrialEnd.Equal(time.Unix(1738368000, 0).UTC()) {
		t.Fatalf("unexpected trial end %v", dto.TrialEnd)
	}
}

func TestPreviousFromEvent(t *testing.T) {
	event := &stripe.Event{
		Data: &stripe.EventData{
			PreviousAttributes: map[string]any{
				"status": "trialing",
				"items": map[string]any{
					"data": []any{
						map[string]any{
							"price": map[string]any{"id": "price_basic"},
						},
					},
				},
			},
		},
	}

	prev := PreviousFromEvent(event)
	if !prev.HasStatus || prev.Status != enums.SubscriptionStatusTrialing {
		t.Fatalf("expected previous status trialing, got %+v", prev)
	}
	if !prev.HasPriceID || prev.PriceID != "price_basic" {
		t.Fatalf("expected previous price_basic, got %+v", prev)
	}
}

func TestPreviousFromEventEmpty(t *testing.T) {
	prev := PreviousFromEvent(&stripe.Event{Data: &stripe.EventData{}})
	if prev.HasStatus || prev.HasPriceID {
		t.Fatalf("expected zero value, got %+v", prev)
	}

	prev = PreviousFromEvent(nil)
	if prev.HasStatus || prev.HasPriceID {
		t.Fatalf("expected zero value for nil event, got %+v", prev)
	}
}

func TestPreviousFromEventMalformedItems(t *testing.T) {
	event := &stripe.Event{
		Data: &stripe.EventData{
			PreviousAttributes: map[string]any{
				"items": "not-a-map",
			},
		},
	}
	prev := PreviousFromEvent(event)
	if prev.HasPriceID {
		t.Fatalf("expected malformed items to be ignored, got %+v", prev)
	}
}
