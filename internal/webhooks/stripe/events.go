package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clearpix/billing-backend/pkg/db/models"
	"github.com/clearpix/billing-backend/pkg/enums"
	pkgerrors "github.com/clearpix/billing-backend/pkg/errors"
)

// ClaimResult reports whether this delivery won the claim. When it lost,
// ExistingStatus tells the caller what the earlier delivery reached.
type ClaimResult struct {
	IsNew          bool
	ExistingStatus enums.WebhookEventStatus
}

// EventLedger is the authoritative record of processed provider events. A
// row is claimed before processing, then moved to a terminal status after.
// Failed rows may be re-claimed by a provider retry; completed and
// unrecoverable rows never change again.
type EventLedger interface {
	Claim(ctx context.Context, eventID, eventType string, payload json.RawMessage) (ClaimResult, error)
	Complete(ctx context.Context, eventID string) error
	Fail(ctx context.Context, eventID, message string) error
	MarkUnrecoverable(ctx context.Context, eventID, message string) error
}

type gormLedger struct {
	db *gorm.DB
}

func NewEventLedger(db *gorm.DB) (EventLedger, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &gormLedger{db: db}, nil
}

// staleClaimAfter bounds how long a processing claim stays exclusive. Real
// processing finishes within the request timeout; anything older is a claim
// whose terminal-status write was lost.
const staleClaimAfter = 10 * time.Minute

// Claim inserts the event row in processing state. The primary key makes the
// insert race-safe: exactly one concurrent delivery gets RowsAffected == 1.
// A row stuck in failed, or left in processing past the staleness window, is
// re-claimed atomically so provider retries can run.
func (l *gormLedger) Claim(ctx context.Context, eventID, eventType string, payload json.RawMessage) (ClaimResult, error) {
	if eventID == "" {
		return ClaimResult{}, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}

	row := models.WebhookEvent{
		EventID:   eventID,
		EventType: eventType,
		Status:    enums.WebhookEventStatusProcessing,
		Payload:   payload,
	}
	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return ClaimResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "claiming webhook event")
	}
	if res.RowsAffected == 1 {
		return ClaimResult{IsNew: true}, nil
	}

	// lost the insert: re-claim if the earlier delivery failed, or if it is
	// still marked processing past any legitimate processing time (a lost
	// Complete write leaves the row there, and the provider keeps retrying)
	res = l.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where(
			"event_id = ? AND (status = ? OR (status = ? AND updated_at < ?))",
			eventID,
			enums.WebhookEventStatusFailed,
			enums.WebhookEventStatusProcessing,
			time.Now().UTC().Add(-staleClaimAfter),
		).
		Updates(map[string]any{
			"status":        enums.WebhookEventStatusProcessing,
			"error_message": nil,
		})
	if res.Error != nil {
		return ClaimResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "re-claiming failed webhook event")
	}
	if res.RowsAffected == 1 {
		return ClaimResult{IsNew: true}, nil
	}

	var existing models.WebhookEvent
	if err := l.db.WithContext(ctx).Where("event_id = ?", eventID).First(&existing).Error; err != nil {
		return ClaimResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading claimed webhook event")
	}
	return ClaimResult{IsNew: false, ExistingStatus: existing.Status}, nil
}

// Complete moves the row to completed. A failure here must surface to the
// caller: acknowledging the provider without the completed marker would let
// a redelivery through on a degraded ledger.
func (l *gormLedger) Complete(ctx context.Context, eventID string) error {
	now := time.Now().UTC()
	res := l.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_id = ? AND status = ?", eventID, enums.WebhookEventStatusProcessing).
		Updates(map[string]any{
			"status":       enums.WebhookEventStatusCompleted,
			"completed_at": now,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "completing webhook event")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "webhook event not in processing state")
	}
	return nil
}

func (l *gormLedger) Fail(ctx context.Context, eventID, message string) error {
	res := l.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_id = ? AND status = ?", eventID, enums.WebhookEventStatusProcessing).
		Updates(map[string]any{
			"status":        enums.WebhookEventStatusFailed,
			"error_message": truncateMessage(message),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "failing webhook event")
	}
	return nil
}

func (l *gormLedger) MarkUnrecoverable(ctx context.Context, eventID, message string) error {
	now := time.Now().UTC()
	res := l.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_id = ? AND status = ?", eventID, enums.WebhookEventStatusProcessing).
		Updates(map[string]any{
			"status":        enums.WebhookEventStatusUnrecoverable,
			"error_message": truncateMessage(message),
			"completed_at":  now,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "marking webhook event unrecoverable")
	}
	return nil
}

const maxErrorMessageLen = 2048

func truncateMessage(message string) string {
	if len(message) > maxErrorMessageLen {
		return message[:maxErrorMessageLen]
	}
	return message
}
