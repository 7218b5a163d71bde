package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// WebhookAck is the body returned to the payment provider. Skipped marks
// duplicate deliveries; Warning carries the reason an event was acknowledged
// without being processed.
type WebhookAck struct {
	Received bool   `json:"received"`
	Skipped  bool   `json:"skipped,omitempty"`
	Warning  string `json:"warning,omitempty"`
}
