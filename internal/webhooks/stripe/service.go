package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v84"

	"github.com/clearpix/billing-backend/internal/plans"
	"github.com/clearpix/billing-backend/internal/subscriptions"
	pkgerrors "github.com/clearpix/billing-backend/pkg/errors"
	"github.com/clearpix/billing-backend/pkg/logger"
)

// Outcome is the terminal classification of one event delivery. Completed
// and Unrecoverable are acknowledged to the provider; Retry is answered with
// a 5xx so the provider redelivers.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeRetry
	OutcomeUnrecoverable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetry:
		return "retry"
	case OutcomeUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Reconciler is the billing state machine the dispatcher routes into.
type Reconciler interface {
	SyncSubscription(ctx context.Context, dto *subscriptions.NormalizedSubscription, prev subscriptions.PreviousAttributes) error
	HandleSubscriptionDeleted(ctx context.Context, dto *subscriptions.NormalizedSubscription) error
	HandleTrialWillEnd(ctx context.Context, dto *subscriptions.NormalizedSubscription) error
	HandleInvoicePaid(ctx context.Context, inv subscriptions.InvoiceView) error
	HandleInvoicePaymentFailed(ctx context.Context, inv subscriptions.InvoiceView) error
	HandleScheduleCompleted(ctx context.Context, scheduleID, subscriptionID string) error
	HandleChargeRefunded(ctx context.Context, ch subscriptions.ChargeView) error
	HandleCheckoutCompleted(ctx context.Context, sess subscriptions.CheckoutView) error
}

type ServiceParams struct {
	Reconciler Reconciler
	Logger     *logger.Logger
}

// Service routes verified provider events into the reconciler and
// classifies the result.
type Service struct {
	reconciler Reconciler
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{reconciler: params.Reconciler, logg: params.Logger}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event == nil || event.Data == nil {
		return OutcomeUnrecoverable, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated:
		dto, err := decodeSubscription(event)
		if err != nil {
			return OutcomeUnrecoverable, err
		}
		prev := subscriptions.PreviousFromEvent(event)
		return s.classify(s.reconciler.SyncSubscription(ctx, dto, prev))

	case stripe.EventTypeCustomerSubscriptionDeleted:
		dto, err := decodeSubscription(event)
		if err != nil {
			return OutcomeUnrecoverable, err
		}
		return s.classify(s.reconciler.HandleSubscriptionDeleted(ctx, dto))

	case stripe.EventTypeCustomerSubscriptionTrialWillEnd:
		dto, err := decodeSubscription(event)
		if err != nil {
			return OutcomeUnrecoverable, err
		}
		return s.classify(s.reconciler.HandleTrialWillEnd(ctx, dto))

	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentSucceeded:
		return s.classify(s.reconciler.HandleInvoicePaid(ctx, invoiceViewFromEvent(event)))

	case stripe.EventTypeInvoicePaymentFailed:
		return s.classify(s.reconciler.HandleInvoicePaymentFailed(ctx, invoiceViewFromEvent(event)))

	case stripe.EventTypeSubscriptionScheduleCompleted:
		scheduleID := event.GetObjectValue("id")
		subscriptionID := event.GetObjectValue("subscription")
		return s.classify(s.reconciler.HandleScheduleCompleted(ctx, scheduleID, subscriptionID))

	case stripe.EventTypeChargeRefunded:
		return s.classify(s.reconciler.HandleChargeRefunded(ctx, chargeViewFromEvent(event)))

	case stripe.EventTypeChargeDisputeCreated:
		// no balance effect until the dispute resolves; record and move on
		ctx = s.logg.WithField(ctx, "charge_id", event.GetObjectValue("charge"))
		s.logg.Warn(ctx, "charge dispute opened")
		return OutcomeCompleted, nil

	case stripe.EventTypeCheckoutSessionCompleted:
		sess, err := decodeCheckoutSession(event)
		if err != nil {
			return OutcomeUnrecoverable, err
		}
		return s.classify(s.reconciler.HandleCheckoutCompleted(ctx, sess))

	default:
		return OutcomeUnrecoverable, pkgerrors.New(
			pkgerrors.CodeValidation,
			fmt.Sprintf("unhandled event type %s", event.Type),
		)
	}
}

// classify maps a reconciler error onto a delivery outcome. Configuration
// gaps (unknown price) and not-yet-provisioned profiles are retried because
// a deploy or a racing insert can resolve them; deterministic failures are
// acknowledged as unrecoverable so the provider stops redelivering.
func (s *Service) classify(err error) (Outcome, error) {
	if err == nil {
		return OutcomeCompleted, nil
	}
	if errors.Is(err, plans.ErrUnknownPrice) || errors.Is(err, subscriptions.ErrProfileNotFound) {
		return OutcomeRetry, err
	}
	if pkgerrors.IsRetryable(err) {
		return OutcomeRetry, err
	}
	return OutcomeUnrecoverable, err
}

func decodeSubscription(event *stripe.Event) (*subscriptions.NormalizedSubscription, error) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	return subscriptions.NormalizeSubscription(&stripeSub)
}

func decodeCheckoutSession(event *stripe.Event) (subscriptions.CheckoutView, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return subscriptions.CheckoutView{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
	}
	view := subscriptions.CheckoutView{
		ID:      sess.ID,
		Mode:    string(sess.Mode),
		PriceID: sess.Metadata["price_id"],
	}
	if sess.Customer != nil {
		view.CustomerID = sess.Customer.ID
	}
	return view, nil
}

// invoiceViewFromEvent reads correlation ids through GetObjectValue so the
// parse survives the invoice shape moving between API versions.
func invoiceViewFromEvent(event *stripe.Event) subscriptions.InvoiceView {
	subscriptionID := event.GetObjectValue("subscription")
	if subscriptionID == "" {
		subscriptionID = event.GetObjectValue("parent", "subscription_details", "subscription")
	}
	return subscriptions.InvoiceView{
		ID:             event.GetObjectValue("id"),
		CustomerID:     event.GetObjectValue("customer"),
		SubscriptionID: subscriptionID,
		AmountPaid:     parseAmount(event.GetObjectValue("amount_paid")),
		BillingReason:  event.GetObjectValue("billing_reason"),
	}
}

func chargeViewFromEvent(event *stripe.Event) subscriptions.ChargeView {
	return subscriptions.ChargeView{
		ID:             event.GetObjectValue("id"),
		CustomerID:     event.GetObjectValue("customer"),
		InvoiceID:      event.GetObjectValue("invoice"),
		AmountRefunded: parseAmount(event.GetObjectValue("amount_refunded")),
	}
}

func parseAmount(raw string) int64 {
	if raw == "" {
		return 0
	}
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return amount
}
