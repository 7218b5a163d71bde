package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/clearpix/billing-backend/internal/analytics"
	"github.com/clearpix/billing-backend/internal/credits"
	"github.com/clearpix/billing-backend/internal/plans"
	"github.com/clearpix/billing-backend/pkg/config"
	"github.com/clearpix/billing-backend/pkg/db/models"
	"github.com/clearpix/billing-backend/pkg/enums"
	pkgerrors "github.com/clearpix/billing-backend/pkg/errors"
	"github.com/clearpix/billing-backend/pkg/logger"
)

// ErrProfileNotFound is returned in strict mode when no profile carries the
// event's customer id. The delivery is retried because the profile row may
// land shortly after checkout.
var ErrProfileNotFound = errors.New("no profile for customer")

// fallbackPeriodDays covers payloads that omit period timestamps even after
// a provider re-fetch.
const fallbackPeriodDays = 30

// InvoiceView is the slice of an invoice event the reconciler acts on.
type InvoiceView struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	AmountPaid     int64
	BillingReason  string
}

// ChargeView is the slice of a charge event the reconciler acts on.
type ChargeView struct {
	ID             string
	CustomerID     string
	InvoiceID      string
	AmountRefunded int64
}

// CheckoutView is the slice of a checkout session the reconciler acts on.
// PriceID is read from the session metadata stamped at checkout creation.
type CheckoutView struct {
	ID         string
	CustomerID string
	Mode       string
	PriceID    string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ReconcilerParams struct {
	Repo              Repository
	Credits           credits.Service
	Catalog           *plans.Catalog
	StripeClient      StripeSubscriptionClient
	Tracker           analytics.Tracker
	TransactionRunner txRunner
	Logger            *logger.Logger
	Billing           config.BillingConfig
	// StrictProfileLookup makes a missing profile a retryable failure instead
	// of a logged skip. Enabled for live-mode deployments.
	StrictProfileLookup bool
}

// Reconciler applies provider subscription state to the local billing
// records and drives every credit effect through the ledger service.
type Reconciler struct {
	repo     Repository
	credits  credits.Service
	catalog  *plans.Catalog
	stripe   StripeSubscriptionClient
	tracker  analytics.Tracker
	txRunner txRunner
	logg     *logger.Logger
	billing  config.BillingConfig
	strict   bool
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("repo is required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credits service is required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client is required")
	}
	if params.Tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Reconciler{
		repo:     params.Repo,
		credits:  params.Credits,
		catalog:  params.Catalog,
		stripe:   params.StripeClient,
		tracker:  params.Tracker,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
		billing:  params.Billing,
		strict:   params.StrictProfileLookup,
	}, nil
}

// SyncSubscription applies a created/updated event: persists the
// subscription, mirrors status and tier onto the profile, and performs any
// credit effect implied by the transition.
func (r *Reconciler) SyncSubscription(ctx context.Context, dto *NormalizedSubscription, prev PreviousAttributes) error {
	if dto == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}
	ctx = r.logg.WithSubscriptionID(ctx, dto.ID)

	profile, err := r.profileForCustomer(ctx, dto.CustomerID)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}
	ctx = r.logg.WithUserID(ctx, profile.ID.String())

	d := *dto
	if err := r.ensurePeriods(ctx, &d); err != nil {
		return err
	}

	stored, err := r.repo.FindSubscriptionByID(ctx, d.ID)
	if err != nil {
		return err
	}

	prevStatus := enums.SubscriptionStatusNone
	prevPriceID := ""
	if stored != nil {
		prevStatus = stored.Status
		prevPriceID = stored.PriceID
	}
	// the event's own previous_attributes beat whatever we have stored; a
	// delayed delivery may arrive after a newer event already synced
	if prev.HasStatus {
		prevStatus = prev.Status
	}
	if prev.HasPriceID {
		prevPriceID = prev.PriceID
	}

	var plan *plans.Plan
	if d.Status != enums.SubscriptionStatusCanceled {
		plan, err = r.catalog.AssertPlan(d.PriceID)
		if err != nil {
			return err
		}
	}

	sub := buildSubscriptionModel(&d, profile, stored)
	tier := ""
	if plan != nil {
		tier = plan.Key
	}

	if err := r.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		if err := repo.UpsertSubscription(ctx, sub); err != nil {
			return err
		}
		return repo.UpdateProfileSubscriptionState(ctx, profile.ID, d.Status, tier)
	}); err != nil {
		return err
	}

	if plan != nil {
		if err := r.applyTransitionCredits(ctx, profile, plan, &d, prevStatus, prevPriceID); err != nil {
			return err
		}
	}

	if stored == nil {
		r.tracker.TrackSubscription(ctx, analytics.EventSubscriptionCreated,
			r.subscriptionEvent(profile, d.ID, d.PriceID, plan, d.Status))
	} else if d.Status == enums.SubscriptionStatusCanceled && prevStatus != enums.SubscriptionStatusCanceled {
		r.tracker.TrackSubscription(ctx, analytics.EventSubscriptionCanceled,
			r.subscriptionEvent(profile, d.ID, d.PriceID, plan, d.Status))
	}

	r.logg.Info(ctx, "subscription synced")
	return nil
}

// applyTransitionCredits performs the credit side effects of a status or
// price transition. Every grant carries a ref id derived from the provider
// object so redeliveries collapse in the ledger.
func (r *Reconciler) applyTransitionCredits(ctx context.Context, profile *models.Profile, plan *plans.Plan, d *NormalizedSubscription, prevStatus enums.SubscriptionStatus, prevPriceID string) error {
	switch {
	case d.Status == enums.SubscriptionStatusTrialing && prevStatus != enums.SubscriptionStatusTrialing:
		if !plan.Trial.Enabled {
			r.logg.Warn(ctx, "trialing subscription on a plan without trial support")
			return nil
		}
		_, err := r.credits.GrantSubscription(ctx, credits.GrantInput{
			UserID:      profile.ID,
			Amount:      plan.TrialCredits(),
			RefID:       d.ID,
			Description: "trial started",
		})
		return err

	case d.Status == enums.SubscriptionStatusActive && prevStatus == enums.SubscriptionStatusTrialing:
		balance := profile.SubscriptionCreditsBalance
		if r.billing.TrialTopupIncludesPurchased {
			balance += profile.PurchasedCreditsBalance
		}
		shortfall := plan.CreditsPerCycle - balance
		if shortfall <= 0 {
			return nil
		}
		cap := plan.MaxRollover()
		_, err := r.credits.GrantSubscription(ctx, credits.GrantInput{
			UserID:      profile.ID,
			Amount:      shortfall,
			RefID:       "trial_conversion_" + d.ID,
			Description: "trial converted to paid",
			MaxBalance:  &cap,
		})
		return err

	case d.Status == enums.SubscriptionStatusActive && prevPriceID != "" && prevPriceID != d.PriceID:
		return r.applyPlanChangeCredits(ctx, profile, plan, d, prevPriceID)
	}
	return nil
}

func (r *Reconciler) applyPlanChangeCredits(ctx context.Context, profile *models.Profile, plan *plans.Plan, d *NormalizedSubscription, prevPriceID string) error {
	prevEntry, ok := r.catalog.Resolve(prevPriceID)
	if !ok || prevEntry.Kind != plans.KindPlan {
		ctx = r.logg.WithField(ctx, "previous_price_id", prevPriceID)
		r.logg.Warn(ctx, "plan change from unknown price, skipping credit delta")
		return nil
	}
	prevPlan := prevEntry.Plan

	diff := plan.CreditsPerCycle - prevPlan.CreditsPerCycle
	if diff <= 0 {
		// downgrades settle at the next renewal, the user keeps the cycle
		// they already paid for
		r.logg.Info(ctx, "plan downgrade recorded, credits settle at renewal")
		return nil
	}

	threshold := int64(r.billing.UpgradeBalanceFactor * float64(prevPlan.CreditsPerCycle))
	if profile.SubscriptionCreditsBalance > threshold {
		ctx = r.logg.WithFields(ctx, map[string]any{
			"balance":   profile.SubscriptionCreditsBalance,
			"threshold": threshold,
		})
		r.logg.Warn(ctx, "upgrade credit grant withheld, balance above threshold")
		return nil
	}

	cap := plan.MaxRollover()
	_, err := r.credits.GrantSubscription(ctx, credits.GrantInput{
		UserID:      profile.ID,
		Amount:      diff,
		RefID:       fmt.Sprintf("upgrade_%s_%s", d.ID, d.PriceID),
		Description: fmt.Sprintf("upgrade from %s to %s", prevPlan.Key, plan.Key),
		MaxBalance:  &cap,
	})
	return err
}

// HandleInvoicePaid grants a fresh cycle of credits, expiring stale ones
// first per the plan's expiration policy.
func (r *Reconciler) HandleInvoicePaid(ctx context.Context, inv InvoiceView) error {
	if inv.SubscriptionID == "" {
		r.logg.Info(ctx, "invoice without subscription, nothing to renew")
		return nil
	}
	ctx = r.logg.WithSubscriptionID(ctx, inv.SubscriptionID)

	stored, err := r.subscriptionWithRefresh(ctx, inv.SubscriptionID)
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}

	profile, err := r.repo.FindProfileByID(ctx, stored.UserID)
	if err != nil {
		return err
	}
	if profile == nil {
		return r.missingProfile(ctx, stored.UserID.String())
	}
	ctx = r.logg.WithUserID(ctx, profile.ID.String())

	plan, err := r.catalog.AssertPlan(stored.PriceID)
	if err != nil {
		return err
	}

	if inv.AmountPaid == 0 {
		r.logg.Info(ctx, "zero-amount invoice, no cycle grant")
		return nil
	}

	expired := int64(0)
	if plan.Expiration != enums.ExpirationPolicyNever {
		keep := int64(0)
		if plan.Expiration == enums.ExpirationPolicyRollingWindow {
			keep = plan.MaxRollover() - plan.CreditsPerCycle
			if keep < 0 {
				keep = 0
			}
		}
		expired, err = r.credits.ExpireDownTo(ctx, credits.ExpireInput{
			UserID:         profile.ID,
			Keep:           keep,
			Reason:         "cycle rollover",
			SubscriptionID: stored.ID,
			CycleEnd:       stored.CurrentPeriodEnd,
		})
		if err != nil {
			return err
		}
	}

	cap := plan.MaxRollover()
	balance, err := r.credits.GrantSubscription(ctx, credits.GrantInput{
		UserID:      profile.ID,
		Amount:      plan.CreditsPerCycle,
		RefID:       "invoice_" + inv.ID,
		Description: "cycle renewal",
		MaxBalance:  &cap,
	})
	if err != nil {
		return err
	}

	// the cap (or a ledger-level duplicate) may have reduced the grant;
	// report what actually landed
	granted := balance - (profile.SubscriptionCreditsBalance - expired)
	if granted < 0 {
		granted = 0
	}
	if granted > 0 {
		r.tracker.TrackCredits(ctx, analytics.EventCreditsGranted, analytics.CreditEvent{
			UserID:     profile.ID.String(),
			Pool:       enums.CreditPoolSubscription.String(),
			Amount:     granted,
			RefID:      "invoice_" + inv.ID,
			OccurredAt: time.Now().UTC(),
		})
	}

	ctx = r.logg.WithField(ctx, "balance", balance)
	r.logg.Info(ctx, "renewal credits granted")
	return nil
}

// HandleInvoicePaymentFailed moves the subscription and profile to past_due.
// Credits are left in place; dunning may still recover the payment.
func (r *Reconciler) HandleInvoicePaymentFailed(ctx context.Context, inv InvoiceView) error {
	if inv.SubscriptionID == "" {
		return nil
	}
	ctx = r.logg.WithSubscriptionID(ctx, inv.SubscriptionID)

	stored, err := r.repo.FindSubscriptionByID(ctx, inv.SubscriptionID)
	if err != nil {
		return err
	}
	if stored == nil {
		r.logg.Warn(ctx, "payment failed for unknown subscription")
		return nil
	}

	profile, err := r.repo.FindProfileByID(ctx, stored.UserID)
	if err != nil {
		return err
	}
	if profile == nil {
		return r.missingProfile(ctx, stored.UserID.String())
	}

	stored.Status = enums.SubscriptionStatusPastDue
	if err := r.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		if err := repo.UpsertSubscription(ctx, stored); err != nil {
			return err
		}
		return repo.UpdateProfileSubscriptionState(ctx, profile.ID, enums.SubscriptionStatusPastDue, profile.SubscriptionTier)
	}); err != nil {
		return err
	}

	r.logg.Warn(ctx, "subscription marked past_due after failed payment")
	return nil
}

// HandleSubscriptionDeleted finalizes a cancellation.
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, dto *NormalizedSubscription) error {
	if dto == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}
	ctx = r.logg.WithSubscriptionID(ctx, dto.ID)

	profile, err := r.profileForCustomer(ctx, dto.CustomerID)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}

	stored, err := r.repo.FindSubscriptionByID(ctx, dto.ID)
	if err != nil {
		return err
	}

	d := *dto
	d.Status = enums.SubscriptionStatusCanceled
	if d.CanceledAt == nil {
		now := time.Now().UTC()
		d.CanceledAt = &now
	}
	if err := r.ensurePeriods(ctx, &d); err != nil {
		return err
	}
	sub := buildSubscriptionModel(&d, profile, stored)

	if err := r.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		if err := repo.UpsertSubscription(ctx, sub); err != nil {
			return err
		}
		return repo.UpdateProfileSubscriptionState(ctx, profile.ID, enums.SubscriptionStatusCanceled, "")
	}); err != nil {
		return err
	}

	if stored == nil || stored.Status != enums.SubscriptionStatusCanceled {
		r.tracker.TrackSubscription(ctx, analytics.EventSubscriptionCanceled,
			r.subscriptionEvent(profile, d.ID, d.PriceID, nil, enums.SubscriptionStatusCanceled))
	}

	r.logg.Info(ctx, "subscription canceled")
	return nil
}

// HandleTrialWillEnd records the upcoming expiry in the ledger so support
// and lifecycle emails can see it. No balance change.
func (r *Reconciler) HandleTrialWillEnd(ctx context.Context, dto *NormalizedSubscription) error {
	if dto == nil || dto.TrialEnd == nil {
		return nil
	}
	ctx = r.logg.WithSubscriptionID(ctx, dto.ID)

	profile, err := r.profileForCustomer(ctx, dto.CustomerID)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}

	days := int(time.Until(*dto.TrialEnd).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return r.credits.RecordTrialWarning(ctx, credits.TrialWarningInput{
		UserID:        profile.ID,
		RefID:         "trial_warning_" + dto.ID,
		DaysRemaining: days,
	})
}

// HandleScheduleCompleted applies a scheduled downgrade that just took
// effect: the balance is reset to the target plan's cycle amount.
func (r *Reconciler) HandleScheduleCompleted(ctx context.Context, scheduleID, subscriptionID string) error {
	if subscriptionID == "" {
		r.logg.Warn(ctx, "schedule completed without a subscription")
		return nil
	}
	ctx = r.logg.WithSubscriptionID(ctx, subscriptionID)

	stored, err := r.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if stored == nil {
		r.logg.Warn(ctx, "schedule completed for unknown subscription")
		return nil
	}
	if stored.ScheduledPriceID == nil {
		r.logg.Info(ctx, "no scheduled change recorded, nothing to apply")
		return nil
	}

	plan, err := r.catalog.AssertPlan(*stored.ScheduledPriceID)
	if err != nil {
		return err
	}

	profile, err := r.repo.FindProfileByID(ctx, stored.UserID)
	if err != nil {
		return err
	}
	if profile == nil {
		return r.missingProfile(ctx, stored.UserID.String())
	}
	ctx = r.logg.WithUserID(ctx, profile.ID.String())

	stored.PriceID = *stored.ScheduledPriceID
	stored.ScheduledPriceID = nil
	stored.ScheduledChangeDate = nil

	if err := r.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		if err := repo.UpsertSubscription(ctx, stored); err != nil {
			return err
		}
		return repo.UpdateProfileSubscriptionState(ctx, profile.ID, stored.Status, plan.Key)
	}); err != nil {
		return err
	}

	_, err = r.credits.ResetSubscription(ctx, credits.ResetInput{
		UserID:      profile.ID,
		Target:      plan.CreditsPerCycle,
		RefID:       "schedule_" + scheduleID,
		Description: "scheduled plan change to " + plan.Key,
	})
	if err != nil {
		return err
	}

	r.logg.Info(ctx, "scheduled plan change applied")
	return nil
}

// HandleChargeRefunded reverses the grant that the refunded charge's invoice
// produced, clamped at the current pool balance.
func (r *Reconciler) HandleChargeRefunded(ctx context.Context, ch ChargeView) error {
	if ch.AmountRefunded <= 0 {
		return nil
	}

	profile, err := r.profileForCustomer(ctx, ch.CustomerID)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}
	ctx = r.logg.WithUserID(ctx, profile.ID.String())

	if ch.InvoiceID == "" {
		r.logg.Warn(ctx, "refunded charge has no invoice linkage, skipping clawback")
		return nil
	}

	result, err := r.credits.Clawback(ctx, credits.ClawbackInput{
		UserID:        profile.ID,
		OriginalRefID: "invoice_" + ch.InvoiceID,
		Reason:        "charge " + ch.ID + " refunded",
	})
	if err != nil {
		return err
	}

	if result.CreditsClawedBack > 0 {
		r.tracker.TrackCredits(ctx, analytics.EventCreditsClawedBack, analytics.CreditEvent{
			UserID:     profile.ID.String(),
			Pool:       enums.CreditPoolSubscription.String(),
			Amount:     -result.CreditsClawedBack,
			RefID:      "invoice_" + ch.InvoiceID,
			OccurredAt: time.Now().UTC(),
		})
	}
	return nil
}

// HandleCheckoutCompleted grants purchased credits for one-time pack
// checkouts. Subscription checkouts flow through subscription events.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, sess CheckoutView) error {
	if sess.Mode != "payment" {
		return nil
	}

	profile, err := r.profileForCustomer(ctx, sess.CustomerID)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}
	ctx = r.logg.WithUserID(ctx, profile.ID.String())

	if sess.PriceID == "" {
		r.logg.Warn(ctx, "checkout session without price metadata, skipping grant")
		return nil
	}

	entry, err := r.catalog.AssertKnown(sess.PriceID)
	if err != nil {
		return err
	}
	if entry.Kind != plans.KindPack {
		r.logg.Warn(ctx, "one-time checkout for a recurring price, skipping grant")
		return nil
	}

	_, err = r.credits.GrantPurchased(ctx, credits.GrantInput{
		UserID:      profile.ID,
		Amount:      entry.Pack.Credits,
		RefID:       "session_" + sess.ID,
		Description: "purchased " + entry.Pack.Name,
	})
	if err != nil {
		return err
	}

	r.tracker.TrackCredits(ctx, analytics.EventCreditsGranted, analytics.CreditEvent{
		UserID:     profile.ID.String(),
		Pool:       enums.CreditPoolPurchased.String(),
		Amount:     entry.Pack.Credits,
		RefID:      "session_" + sess.ID,
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

// subscriptionWithRefresh loads a subscription, re-syncing from the provider
// when the local row is missing (out-of-order delivery).
func (r *Reconciler) subscriptionWithRefresh(ctx context.Context, id string) (*models.Subscription, error) {
	stored, err := r.repo.FindSubscriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return stored, nil
	}

	r.logg.Warn(ctx, "subscription unknown locally, refreshing from provider")
	refreshed, err := r.refreshNormalized(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.SyncSubscription(ctx, refreshed, PreviousAttributes{}); err != nil {
		return nil, err
	}

	stored, err = r.repo.FindSubscriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		// sync skipped, e.g. no profile in non-strict mode
		r.logg.Warn(ctx, "subscription still unknown after refresh, skipping")
	}
	return stored, nil
}

func (r *Reconciler) refreshNormalized(ctx context.Context, id string) (*NormalizedSubscription, error) {
	raw, err := r.stripe.Get(ctx, id, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching subscription from provider")
	}
	return NormalizeSubscription(raw)
}

// ensurePeriods fills missing period bounds, first from a provider re-fetch,
// then from a synthetic window so downstream code never sees zero times.
func (r *Reconciler) ensurePeriods(ctx context.Context, d *NormalizedSubscription) error {
	if !d.CurrentPeriodEnd.IsZero() {
		return nil
	}

	refreshed, err := r.refreshNormalized(ctx, d.ID)
	if err == nil && !refreshed.CurrentPeriodEnd.IsZero() {
		d.CurrentPeriodStart = refreshed.CurrentPeriodStart
		d.CurrentPeriodEnd = refreshed.CurrentPeriodEnd
		return nil
	}
	if err != nil {
		r.logg.Warn(ctx, "provider re-fetch failed, falling back to synthetic period")
	}

	now := time.Now().UTC()
	d.CurrentPeriodStart = now
	d.CurrentPeriodEnd = now.AddDate(0, 0, fallbackPeriodDays)
	r.logg.Warn(ctx, "period timestamps missing, applied synthetic window")
	return nil
}

func (r *Reconciler) profileForCustomer(ctx context.Context, customerID string) (*models.Profile, error) {
	if customerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	profile, err := r.repo.FindProfileByCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, r.missingProfile(ctx, customerID)
	}
	return profile, nil
}

// missingProfile returns a retryable error in strict mode and a logged nil
// otherwise. Test-mode events routinely reference customers that never
// existed in this environment.
// subscriptionEvent builds the analytics payload. When the caller has no
// resolved plan (canceled subscriptions skip the catalog assertion), pricing
// is looked up leniently so retired prices still emit without it.
func (r *Reconciler) subscriptionEvent(
	profile *models.Profile,
	subscriptionID, priceID string,
	plan *plans.Plan,
	status enums.SubscriptionStatus,
) analytics.SubscriptionEvent {
	ev := analytics.SubscriptionEvent{
		UserID:         profile.ID.String(),
		SubscriptionID: subscriptionID,
		PriceID:        priceID,
		Status:         status.String(),
		OccurredAt:     time.Now().UTC(),
	}
	if plan == nil {
		if entry, ok := r.catalog.Resolve(priceID); ok && entry.Kind == plans.KindPlan {
			plan = entry.Plan
		}
	}
	if plan != nil {
		ev.PlanKey = plan.Key
		ev.Amount = plan.PriceAmount.StringFixed(2)
		ev.Interval = plan.Interval.String()
	}
	return ev
}

func (r *Reconciler) missingProfile(ctx context.Context, ref string) error {
	if r.strict {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, ErrProfileNotFound, "customer "+ref)
	}
	ctx = r.logg.WithField(ctx, "customer_ref", ref)
	r.logg.Warn(ctx, "no profile for customer, skipping event")
	return nil
}

func buildSubscriptionModel(d *NormalizedSubscription, profile *models.Profile, stored *models.Subscription) *models.Subscription {
	sub := &models.Subscription{
		ID:                 d.ID,
		UserID:             profile.ID,
		Status:             d.Status,
		PriceID:            d.PriceID,
		CurrentPeriodStart: d.CurrentPeriodStart,
		CurrentPeriodEnd:   d.CurrentPeriodEnd,
		TrialEnd:           d.TrialEnd,
		CancelAtPeriodEnd:  d.CancelAtPeriodEnd,
		CanceledAt:         d.CanceledAt,
		Metadata:           metadataJSON(d.Metadata),
	}
	if stored != nil {
		sub.ScheduledPriceID = stored.ScheduledPriceID
		sub.ScheduledChangeDate = stored.ScheduledChangeDate
		sub.CreatedAt = stored.CreatedAt
	}
	return sub
}
