package credits

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/clearpix/billing-backend/pkg/errors"
	"github.com/clearpix/billing-backend/pkg/logger"
)

type stubRepo struct {
	subGrants  []GrantInput
	purGrants  []GrantInput
	expires    []ExpireInput
	resets     []ResetInput
	clawbacks  []ClawbackInput
	audits     []string
	balance    int64
	clawRow    ClawbackRow
	failureErr error
}

func (r *stubRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *stubRepo) AddSubscriptionCredits(_ context.Context, userID uuid.UUID, amount int64, refID, description string, maxBalance *int64) (int64, error) {
	if r.failureErr != nil {
		return 0, r.failureErr
	}
	r.subGrants = append(r.subGrants, GrantInput{UserID: userID, Amount: amount, RefID: refID, Description: description, MaxBalance: maxBalance})
	return r.balance, nil
}

func (r *stubRepo) AddPurchasedCredits(_ context.Context, userID uuid.UUID, amount int64, refID, description string) (int64, error) {
	if r.failureErr != nil {
		return 0, r.failureErr
	}
	r.purGrants = append(r.purGrants, GrantInput{UserID: userID, Amount: amount, RefID: refID, Description: description})
	return r.balance, nil
}

func (r *stubRepo) ExpireSubscriptionCredits(_ context.Context, userID uuid.UUID, keep int64, reason, subscriptionID string, cycleEnd time.Time) (int64, error) {
	if r.failureErr != nil {
		return 0, r.failureErr
	}
	r.expires = append(r.expires, ExpireInput{UserID: userID, Keep: keep, Reason: reason, SubscriptionID: subscriptionID, CycleEnd: cycleEnd})
	return r.balance, nil
}

func (r *stubRepo) ClawbackFromTransaction(_ context.Context, userID uuid.UUID, originalRefID, reason string) (ClawbackRow, error) {
	if r.failureErr != nil {
		return ClawbackRow{}, r.failureErr
	}
	r.clawbacks = append(r.clawbacks, ClawbackInput{UserID: userID, OriginalRefID: originalRefID, Reason: reason})
	return r.clawRow, nil
}

func (r *stubRepo) ResetSubscriptionCredits(_ context.Context, userID uuid.UUID, target int64, refID, description string) (int64, error) {
	if r.failureErr != nil {
		return 0, r.failureErr
	}
	r.resets = append(r.resets, ResetInput{UserID: userID, Target: target, RefID: refID, Description: description})
	return target, nil
}

func (r *stubRepo) RecordZeroAudit(_ context.Context, _ uuid.UUID, txType, refID, _ string, _ json.RawMessage) error {
	if r.failureErr != nil {
		return r.failureErr
	}
	r.audits = append(r.audits, txType+":"+refID)
	return nil
}

func newTestService(t *testing.T, repo Repository) Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(ServiceParams{Repo: repo, Logger: logg})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestGrantSubscriptionValidation(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(t, repo)
	ctx := context.Background()
	userID := uuid.New()

	cases := []struct {
		name string
		in   GrantInput
	}{
		{"missing user", GrantInput{Amount: 100, RefID: "invoice_1"}},
		{"zero amount", GrantInput{UserID: userID, Amount: 0, RefID: "invoice_1"}},
		{"negative amount", GrantInput{UserID: userID, Amount: -5, RefID: "invoice_1"}},
		{"missing ref id", GrantInput{UserID: userID, Amount: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.GrantSubscription(ctx, tc.in); err == nil {
				t.Fatal("expected validation error")
			} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation code, got %v", err)
			}
		})
	}
	if len(repo.subGrants) != 0 {
		t.Fatalf("expected no repo calls, got %d", len(repo.subGrants))
	}
}

func TestGrantSubscriptionPassesMaxBalance(t *testing.T) {
	repo := &stubRepo{balance: 1200}
	svc := newTestService(t, repo)
	cap := int64(1200)

	balance, err := svc.GrantSubscription(context.Background(), GrantInput{
		UserID:      uuid.New(),
		Amount:      200,
		RefID:       "invoice_in_123",
		Description: "monthly renewal",
		MaxBalance:  &cap,
	})
	if err != nil {
		t.Fatalf("GrantSubscription: %v", err)
	}
	if balance != 1200 {
		t.Fatalf("expected balance 1200, got %d", balance)
	}
	if len(repo.subGrants) != 1 {
		t.Fatalf("expected one grant, got %d", len(repo.subGrants))
	}
	if repo.subGrants[0].MaxBalance == nil || *repo.subGrants[0].MaxBalance != 1200 {
		t.Fatal("expected max balance to reach the repo")
	}
}

func TestGrantPurchasedRoutesToPurchasedPool(t *testing.T) {
	repo := &stubRepo{balance: 500}
	svc := newTestService(t, repo)

	if _, err := svc.GrantPurchased(context.Background(), GrantInput{
		UserID: uuid.New(),
		Amount: 500,
		RefID:  "session_cs_123",
	}); err != nil {
		t.Fatalf("GrantPurchased: %v", err)
	}
	if len(repo.purGrants) != 1 || len(repo.subGrants) != 0 {
		t.Fatal("expected grant to hit the purchased pool only")
	}
}

func TestExpireDownToClampsNegativeKeep(t *testing.T) {
	repo := &stubRepo{balance: 300}
	svc := newTestService(t, repo)

	if _, err := svc.ExpireDownTo(context.Background(), ExpireInput{
		UserID:         uuid.New(),
		Keep:           -50,
		SubscriptionID: "sub_123",
		CycleEnd:       time.Now(),
	}); err != nil {
		t.Fatalf("ExpireDownTo: %v", err)
	}
	if repo.expires[0].Keep != 0 {
		t.Fatalf("expected keep clamped to 0, got %d", repo.expires[0].Keep)
	}
}

func TestClawbackReportsPartialReversal(t *testing.T) {
	repo := &stubRepo{clawRow: ClawbackRow{CreditsClawedBack: 120, NewBalance: 0}}
	svc := newTestService(t, repo)

	result, err := svc.Clawback(context.Background(), ClawbackInput{
		UserID:        uuid.New(),
		OriginalRefID: "invoice_in_123",
		Reason:        "charge refunded",
	})
	if err != nil {
		t.Fatalf("Clawback: %v", err)
	}
	if result.CreditsClawedBack != 120 || result.NewBalance != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestResetValidation(t *testing.T) {
	svc := newTestService(t, &stubRepo{})

	_, err := svc.ResetSubscription(context.Background(), ResetInput{
		UserID: uuid.New(),
		Target: -10,
		RefID:  "schedule_1",
	})
	if err == nil {
		t.Fatal("expected negative target to be rejected")
	}
}

func TestRecordTrialWarning(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(t, repo)

	err := svc.RecordTrialWarning(context.Background(), TrialWarningInput{
		UserID:        uuid.New(),
		RefID:         "trial_warning_sub_123",
		DaysRemaining: 3,
	})
	if err != nil {
		t.Fatalf("RecordTrialWarning: %v", err)
	}
	if len(repo.audits) != 1 || repo.audits[0] != "trial_warning:trial_warning_sub_123" {
		t.Fatalf("unexpected audit entries: %v", repo.audits)
	}
}

func TestRepoErrorsPropagate(t *testing.T) {
	repo := &stubRepo{failureErr: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	svc := newTestService(t, repo)

	_, err := svc.GrantSubscription(context.Background(), GrantInput{
		UserID: uuid.New(),
		Amount: 100,
		RefID:  "invoice_1",
	})
	if !pkgerrors.IsRetryable(err) {
		t.Fatalf("expected retryable dependency error, got %v", err)
	}
}
