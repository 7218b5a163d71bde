package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/clearpix/billing-backend/pkg/logger"
)

// Tracker emits billing analytics events. Emission is best-effort; a failed
// publish is logged and never blocks or fails webhook processing.
type Tracker interface {
	TrackSubscription(ctx context.Context, name string, event SubscriptionEvent)
	TrackCredits(ctx context.Context, name string, event CreditEvent)
}

type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

type TrackerParams struct {
	Publisher publisher
	Logger    *logger.Logger
}

type pubsubTracker struct {
	publisher publisher
	logg      *logger.Logger
}

func NewTracker(params TrackerParams) (Tracker, error) {
	if params.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &pubsubTracker{publisher: params.Publisher, logg: params.Logger}, nil
}

func (t *pubsubTracker) TrackSubscription(ctx context.Context, name string, event SubscriptionEvent) {
	t.publish(ctx, name, event)
}

func (t *pubsubTracker) TrackCredits(ctx context.Context, name string, event CreditEvent) {
	t.publish(ctx, name, event)
}

func (t *pubsubTracker) publish(ctx context.Context, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		t.logg.Error(ctx, "encoding analytics event", err)
		return
	}

	result := t.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event_type": name},
	})

	// fire-and-forget, the server ack is awaited off the request path
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			t.logg.Error(context.Background(), "publishing analytics event "+name, err)
		}
	}()
}

// NoopTracker drops every event. Used when Pub/Sub is not configured.
type NoopTracker struct{}

func (NoopTracker) TrackSubscription(context.Context, string, SubscriptionEvent) {}
func (NoopTracker) TrackCredits(context.Context, string, CreditEvent)            {}
