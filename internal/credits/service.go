package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clearpix/billing-backend/pkg/enums"
	pkgerrors "github.com/clearpix/billing-backend/pkg/errors"
	"github.com/clearpix/billing-backend/pkg/logger"
)

// GrantInput describes a credit grant. MaxBalance, when set, caps the
// post-grant subscription balance; it is ignored for purchased grants.
type GrantInput struct {
	UserID      uuid.UUID
	Amount      int64
	RefID       string
	Description string
	MaxBalance  *int64
}

// ExpireInput lowers the subscription pool to Keep at a cycle boundary.
type ExpireInput struct {
	UserID         uuid.UUID
	Keep           int64
	Reason         string
	SubscriptionID string
	CycleEnd       time.Time
}

// ResetInput replaces the subscription balance with Target.
type ResetInput struct {
	UserID      uuid.UUID
	Target      int64
	RefID       string
	Description string
}

// ClawbackInput reverses a prior grant identified by its ref id.
type ClawbackInput struct {
	UserID        uuid.UUID
	OriginalRefID string
	Reason        string
}

// ClawbackResult reports how much was actually reversed. CreditsClawedBack
// may be less than the original grant when the balance was already spent.
type ClawbackResult struct {
	CreditsClawedBack int64
	NewBalance        int64
}

// TrialWarningInput records an upcoming trial expiry in the ledger.
type TrialWarningInput struct {
	UserID        uuid.UUID
	RefID         string
	DaysRemaining int
}

// Service is the credit ledger surface used by the billing reconciler.
type Service interface {
	GrantSubscription(ctx context.Context, in GrantInput) (int64, error)
	GrantPurchased(ctx context.Context, in GrantInput) (int64, error)
	ExpireDownTo(ctx context.Context, in ExpireInput) (int64, error)
	ResetSubscription(ctx context.Context, in ResetInput) (int64, error)
	Clawback(ctx context.Context, in ClawbackInput) (ClawbackResult, error)
	RecordTrialWarning(ctx context.Context, in TrialWarningInput) error
}

type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("repo is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{repo: params.Repo, logg: params.Logger}, nil
}

func (s *service) GrantSubscription(ctx context.Context, in GrantInput) (int64, error) {
	if err := validateGrant(in); err != nil {
		return 0, err
	}

	balance, err := s.repo.AddSubscriptionCredits(ctx, in.UserID, in.Amount, in.RefID, in.Description, in.MaxBalance)
	if err != nil {
		return 0, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id": in.UserID.String(),
		"ref_id":  in.RefID,
		"amount":  in.Amount,
		"balance": balance,
	})
	s.logg.Info(ctx, "subscription credits granted")
	return balance, nil
}

func (s *service) GrantPurchased(ctx context.Context, in GrantInput) (int64, error) {
	if err := validateGrant(in); err != nil {
		return 0, err
	}

	balance, err := s.repo.AddPurchasedCredits(ctx, in.UserID, in.Amount, in.RefID, in.Description)
	if err != nil {
		return 0, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id": in.UserID.String(),
		"ref_id":  in.RefID,
		"amount":  in.Amount,
		"balance": balance,
	})
	s.logg.Info(ctx, "purchased credits granted")
	return balance, nil
}

func (s *service) ExpireDownTo(ctx context.Context, in ExpireInput) (int64, error) {
	if in.UserID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if in.SubscriptionID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	if in.Keep < 0 {
		in.Keep = 0
	}

	expired, err := s.repo.ExpireSubscriptionCredits(ctx, in.UserID, in.Keep, in.Reason, in.SubscriptionID, in.CycleEnd)
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"user_id":         in.UserID.String(),
			"subscription_id": in.SubscriptionID,
			"expired":         expired,
			"kept":            in.Keep,
		})
		s.logg.Info(ctx, "subscription credits expired")
	}
	return expired, nil
}

func (s *service) ResetSubscription(ctx context.Context, in ResetInput) (int64, error) {
	if in.UserID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if in.RefID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "ref id is required")
	}
	if in.Target < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "target balance must not be negative")
	}

	balance, err := s.repo.ResetSubscriptionCredits(ctx, in.UserID, in.Target, in.RefID, in.Description)
	if err != nil {
		return 0, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id": in.UserID.String(),
		"ref_id":  in.RefID,
		"balance": balance,
	})
	s.logg.Info(ctx, "subscription credits reset")
	return balance, nil
}

func (s *service) Clawback(ctx context.Context, in ClawbackInput) (ClawbackResult, error) {
	if in.UserID == uuid.Nil {
		return ClawbackResult{}, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if in.OriginalRefID == "" {
		return ClawbackResult{}, pkgerrors.New(pkgerrors.CodeValidation, "original ref id is required")
	}

	row, err := s.repo.ClawbackFromTransaction(ctx, in.UserID, in.OriginalRefID, in.Reason)
	if err != nil {
		return ClawbackResult{}, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":     in.UserID.String(),
		"ref_id":      in.OriginalRefID,
		"clawed_back": row.CreditsClawedBack,
		"balance":     row.NewBalance,
	})
	if row.CreditsClawedBack == 0 {
		s.logg.Info(ctx, "clawback found nothing to reverse")
	} else {
		s.logg.Info(ctx, "credits clawed back")
	}
	return ClawbackResult{CreditsClawedBack: row.CreditsClawedBack, NewBalance: row.NewBalance}, nil
}

func (s *service) RecordTrialWarning(ctx context.Context, in TrialWarningInput) error {
	if in.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if in.RefID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "ref id is required")
	}

	meta, err := json.Marshal(map[string]any{"days_remaining": in.DaysRemaining})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding trial warning metadata")
	}

	description := fmt.Sprintf("trial ends in %d day(s)", in.DaysRemaining)
	return s.repo.RecordZeroAudit(ctx, in.UserID, enums.CreditTransactionTypeTrialWarning.String(), in.RefID, description, meta)
}

func validateGrant(in GrantInput) error {
	if in.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if in.Amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "grant amount must be positive")
	}
	if in.RefID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "ref id is required")
	}
	return nil
}
