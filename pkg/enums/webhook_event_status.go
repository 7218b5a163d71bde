package enums

import "fmt"

// WebhookEventStatus tracks the lifecycle of a claimed provider event.
// Completed and unrecoverable are terminal; failed may be re-claimed by a
// provider retry.
type WebhookEventStatus string

const (
	WebhookEventStatusProcessing    WebhookEventStatus = "processing"
	WebhookEventStatusCompleted     WebhookEventStatus = "completed"
	WebhookEventStatusFailed        WebhookEventStatus = "failed"
	WebhookEventStatusUnrecoverable WebhookEventStatus = "unrecoverable"
)

var validWebhookEventStatuses = []WebhookEventStatus{
	WebhookEventStatusProcessing,
	WebhookEventStatusCompleted,
	WebhookEventStatusFailed,
	WebhookEventStatusUnrecoverable,
}

func (s WebhookEventStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status may never transition again.
func (s WebhookEventStatus) IsTerminal() bool {
	return s == WebhookEventStatusCompleted || s == WebhookEventStatusUnrecoverable
}

func (s WebhookEventStatus) IsValid() bool {
	for _, candidate := range validWebhookEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseWebhookEventStatus(value string) (WebhookEventStatus, error) {
	for _, candidate := range validWebhookEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook event status %q", value)
}
