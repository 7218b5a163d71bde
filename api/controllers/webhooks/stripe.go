package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
	"go.uber.org/multierr"

	"github.com/clearpix/billing-backend/api/responses"
	stripewebhook "github.com/clearpix/billing-backend/internal/webhooks/stripe"
	pkgerrors "github.com/clearpix/billing-backend/pkg/errors"
	"github.com/clearpix/billing-backend/pkg/logger"
	"github.com/clearpix/billing-backend/pkg/metrics"
	"github.com/clearpix/billing-backend/pkg/types"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error)
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
	SkipSignatureVerification() bool
}

// StripeWebhook receives provider deliveries, verifies them, runs them
// through the event ledger and dispatcher, and answers with the status code
// the provider's retry machinery expects: 200 acknowledges (including
// unrecoverable events, which would never succeed on redelivery), 5xx asks
// for a retry.
func StripeWebhook(
	svc StripeWebhookService,
	client stripeClient,
	guard stripeWebhookGuard,
	ledger stripewebhook.EventLedger,
	webhookMetrics *metrics.WebhookMetrics,
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || client == nil || guard == nil || ledger == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		event, err := parseEvent(payload, r.Header.Get("Stripe-Signature"), client)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		ctx = logg.WithEventID(ctx, event.ID)
		ctx = logg.WithField(ctx, "event_type", string(event.Type))
		eventType := string(event.Type)
		start := time.Now()
		finish := func(label string) {
			webhookMetrics.IncOutcome(eventType, label)
			webhookMetrics.ObserveDuration(eventType, time.Since(start))
		}

		// fast-path duplicate suppression; an unavailable cache degrades to
		// ledger-only dedup
		suppressed, guardErr := guard.CheckAndMark(ctx, event.ID)
		if guardErr != nil {
			logg.Warn(ctx, "idempotency guard unavailable, relying on event ledger")
		} else if suppressed {
			logg.Info(ctx, "duplicate delivery suppressed by guard")
			finish("duplicate")
			responses.WriteAck(w, types.WebhookAck{Received: true, Skipped: true})
			return
		}

		claimed := true
		claim, err := ledger.Claim(ctx, event.ID, eventType, json.RawMessage(payload))
		if err != nil {
			// degraded mode: process anyway, redeliveries lean on ref_id
			// dedup inside the credit functions
			logg.Error(ctx, "event ledger claim failed, processing without it", err)
			claimed = false
		} else if !claim.IsNew {
			ctx = logg.WithField(ctx, "prior_status", claim.ExistingStatus.String())
			logg.Info(ctx, "event already claimed, skipping")
			finish("duplicate")
			responses.WriteAck(w, types.WebhookAck{Received: true, Skipped: true})
			return
		}

		outcome, procErr := svc.HandleEvent(ctx, event)

		switch outcome {
		case stripewebhook.OutcomeCompleted:
			if claimed {
				if completeErr := ledger.Complete(ctx, event.ID); completeErr != nil {
					// without the completed marker a redelivery would rerun
					// the event, so fail loudly and let the provider retry;
					// the row moves to failed so the retry can re-claim it
					if failErr := ledger.Fail(ctx, event.ID, completeErr.Error()); failErr != nil {
						logg.Error(ctx, "failed to release stuck claim", failErr)
					}
					combined := multierr.Combine(completeErr, guard.Delete(ctx, event.ID))
					finish("completion_write_failed")
					responses.WriteError(ctx, logg, w,
						pkgerrors.Wrap(pkgerrors.CodeDependency, combined, "persist webhook completion"))
					return
				}
			}
			logg.Info(ctx, "event processed")
			finish(outcome.String())
			responses.WriteAck(w, types.WebhookAck{Received: true})

		case stripewebhook.OutcomeUnrecoverable:
			if claimed {
				if markErr := ledger.MarkUnrecoverable(ctx, event.ID, errMessage(procErr)); markErr != nil {
					logg.Error(ctx, "failed to mark event unrecoverable", markErr)
				}
			}
			logg.Error(ctx, "event unprocessable, acknowledging to stop redelivery", procErr)
			finish(outcome.String())
			responses.WriteAck(w, types.WebhookAck{
				Received: true,
				Warning:  "event acknowledged without processing",
			})

		default:
			if claimed {
				if failErr := ledger.Fail(ctx, event.ID, errMessage(procErr)); failErr != nil {
					logg.Error(ctx, "failed to record event failure", failErr)
				}
			}
			if delErr := guard.Delete(ctx, event.ID); delErr != nil {
				logg.Warn(ctx, "failed to clear idempotency mark")
			}
			finish(outcome.String())
			responses.WriteError(ctx, logg, w, asRetryable(procErr))
		}
	}
}

// parseEvent verifies the signature unless the client was explicitly
// configured to skip verification (test env with a test signing secret).
func parseEvent(payload []byte, sigHeader string, client stripeClient) (*stripe.Event, error) {
	if client.SkipSignatureVerification() {
		var event stripe.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode unverified event")
		}
		if event.ID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id missing")
		}
		return &event, nil
	}

	if sigHeader == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing")
	}
	event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "verify signature")
	}
	return &event, nil
}

// asRetryable guarantees the response status maps to a 5xx so the provider
// redelivers, regardless of how the underlying error was classified.
func asRetryable(err error) error {
	if err == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "event processing failed")
	}
	if typed := pkgerrors.As(err); typed != nil {
		if pkgerrors.MetadataFor(typed.Code()).HTTPStatus >= http.StatusInternalServerError {
			return err
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "event processing failed")
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
