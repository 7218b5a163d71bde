package credits

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/clearpix/billing-backend/pkg/errors"
)

// ClawbackRow mirrors the result set of clawback_credits_from_transaction.
type ClawbackRow struct {
	CreditsClawedBack int64 `gorm:"column:credits_clawed_back"`
	NewBalance        int64 `gorm:"column:new_balance"`
}

// Repository executes the atomic credit functions. All mutations happen
// inside the database under the profile row lock, so callers never need to
// open their own transaction around a single call.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	AddSubscriptionCredits(ctx context.Context, userID uuid.UUID, amount int64, refID, description string, maxBalance *int64) (int64, error)
	AddPurchasedCredits(ctx context.Context, userID uuid.UUID, amount int64, refID, description string) (int64, error)
	ExpireSubscriptionCredits(ctx context.Context, userID uuid.UUID, keep int64, reason, subscriptionID string, cycleEnd time.Time) (int64, error)
	ClawbackFromTransaction(ctx context.Context, userID uuid.UUID, originalRefID, reason string) (ClawbackRow, error)
	ResetSubscriptionCredits(ctx context.Context, userID uuid.UUID, target int64, refID, description string) (int64, error)
	RecordZeroAudit(ctx context.Context, userID uuid.UUID, txType, refID, description string, metadata json.RawMessage) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	return &gormRepository{db: tx}
}

func (r *gormRepository) AddSubscriptionCredits(ctx context.Context, userID uuid.UUID, amount int64, refID, description string, maxBalance *int64) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).
		Raw(`SELECT add_subscription_credits(?, ?, ?, ?, ?) AS balance`, userID, amount, refID, description, maxBalance).
		Scan(&balance).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adding subscription credits")
	}
	return balance, nil
}

func (r *gormRepository) AddPurchasedCredits(ctx context.Context, userID uuid.UUID, amount int64, refID, description string) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).
		Raw(`SELECT add_purchased_credits(?, ?, ?, ?) AS balance`, userID, amount, refID, description).
		Scan(&balance).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adding purchased credits")
	}
	return balance, nil
}

func (r *gormRepository) ExpireSubscriptionCredits(ctx context.Context, userID uuid.UUID, keep int64, reason, subscriptionID string, cycleEnd time.Time) (int64, error) {
	var expired int64
	err := r.db.WithContext(ctx).
		Raw(`SELECT expire_subscription_credits(?, ?, ?, ?, ?) AS expired`, userID, keep, reason, subscriptionID, cycleEnd).
		Scan(&expired).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expiring subscription credits")
	}
	return expired, nil
}

func (r *gormRepository) ClawbackFromTransaction(ctx context.Context, userID uuid.UUID, originalRefID, reason string) (ClawbackRow, error) {
	var row ClawbackRow
	err := r.db.WithContext(ctx).
		Raw(`SELECT credits_clawed_back, new_balance FROM clawback_credits_from_transaction(?, ?, ?)`, userID, originalRefID, reason).
		Scan(&row).Error
	if err != nil {
		return ClawbackRow{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clawing back credits")
	}
	return row, nil
}

func (r *gormRepository) ResetSubscriptionCredits(ctx context.Context, userID uuid.UUID, target int64, refID, description string) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).
		Raw(`SELECT reset_subscription_credits(?, ?, ?, ?) AS balance`, userID, target, refID, description).
		Scan(&balance).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resetting subscription credits")
	}
	return balance, nil
}

// RecordZeroAudit appends a zero-amount ledger entry carrying the profile's
// current subscription balance. The NOT EXISTS clause keeps redeliveries from
// duplicating the entry.
func (r *gormRepository) RecordZeroAudit(ctx context.Context, userID uuid.UUID, txType, refID, description string, metadata json.RawMessage) error {
	err := r.db.WithContext(ctx).Exec(`
		INSERT INTO credit_transactions (user_id, amount, balance_after, pool, type, description, ref_id, metadata)
		SELECT id, 0, subscription_credits_balance, 'subscription', ?::credit_transaction_type, ?, ?, ?
		FROM profiles
		WHERE id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM credit_transactions
			WHERE user_id = ? AND ref_id = ? AND type = ?::credit_transaction_type
		  )`,
		txType, description, refID, metadata, userID, userID, refID, txType,
	).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording audit entry")
	}
	return nil
}
