package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/clearpix/billing-backend/internal/webhooks/stripe"
	"github.com/clearpix/billing-backend/pkg/enums"
	pkgerrors "github.com/clearpix/billing-backend/pkg/errors"
	"github.com/clearpix/billing-backend/pkg/logger"
	"github.com/clearpix/billing-backend/pkg/metrics"
)

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedEvent(t, "evt_success_1")
	service := &fakeWebhookService{outcome: stripewebhook.OutcomeCompleted}
	ledger := newFakeLedger()
	handler := newHandler(t, service, ledger)

	rec := deliver(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}
	if ledger.status["evt_success_1"] != enums.WebhookEventStatusCompleted {
		t.Fatalf("expected ledger row completed, got %s", ledger.status["evt_success_1"])
	}

	// replay the same event
	rec2 := deliver(handler, payload, header)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
	if !strings.Contains(rec2.Body.String(), `"skipped":true`) {
		t.Fatalf("expected duplicate ack to be marked skipped: %s", rec2.Body.String())
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t, "evt_badsig_1")
	service := &fakeWebhookService{outcome: stripewebhook.OutcomeCompleted}
	handler := newHandler(t, service, newFakeLedger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=invalid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		t.Fatalf("expected non-200 for invalid signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestStripeWebhook_MissingSignatureHeader(t *testing.T) {
	payload, _ := buildSignedEvent(t, "evt_nosig_1")
	handler := newHandler(t, &fakeWebhookService{}, newFakeLedger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without signature header, got %d", rec.Code)
	}
}

func TestStripeWebhook_SkipVerifyClientAcceptsUnsigned(t *testing.T) {
	payload, _ := buildSignedEvent(t, "evt_unsigned_1")
	service := &fakeWebhookService{outcome: stripewebhook.OutcomeCompleted}
	ledger := newFakeLedger()
	handler := newHandlerWithClient(t, service, ledger, &fakeSigningClient{secret: "whsec_test", skip: true})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with verification skipped, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}
}

func TestStripeWebhook_RetryOutcomeReturns5xxAndReleases(t *testing.T) {
	payload, header := buildSignedEvent(t, "evt_retry_1")
	service := &fakeWebhookService{
		outcome: stripewebhook.OutcomeRetry,
		err:     pkgerrors.New(pkgerrors.CodeDependency, "ledger unavailable"),
	}
	ledger := newFakeLedger()
	handler := newHandler(t, service, ledger)

	rec := deliver(handler, payload, header)
	if rec.Code < http.StatusInternalServerError {
		t.Fatalf("expected 5xx for retryable failure, got %d", rec.Code)
	}
	if ledger.status["evt_retry_1"] != enums.WebhookEventStatusFailed {
		t.Fatalf("expected ledger row failed, got %s", ledger.status["evt_retry_1"])
	}

	// the redelivery must reach the service again
	service.outcome = stripewebhook.OutcomeCompleted
	service.err = nil
	rec2 := deliver(handler, payload, header)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.calls != 2 {
		t.Fatalf("expected redelivery processed, call count %d", service.calls)
	}
}

func TestStripeWebhook_UnrecoverableAcksWithWarning(t *testing.T) {
	payload, header := buildSignedEvent(t, "evt_dead_1")
	service := &fakeWebhookService{
		outcome: stripewebhook.OutcomeUnrecoverable,
		err:     pkgerrors.New(pkgerrors.CodeValidation, "unhandled event type"),
	}
	ledger := newFakeLedger()
	handler := newHandler(t, service, ledger)

	rec := deliver(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unrecoverable event, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "warning") {
		t.Fatalf("expected warning in ack body: %s", rec.Body.String())
	}
	if ledger.status["evt_dead_1"] != enums.WebhookEventStatusUnrecoverable {
		t.Fatalf("expected ledger row unrecoverable, got %s", ledger.status["evt_dead_1"])
	}
}

func TestStripeWebhook_CompletionWriteFailureIsLoud(t *testing.T) {
	payload, header := buildSignedEvent(t, "evt_cw_1")
	service := &fakeWebhookService{outcome: stripewebhook.OutcomeCompleted}
	ledger := newFakeLedger()
	ledger.completeErr = pkgerrors.New(pkgerrors.CodeDependency, "connection reset")
	handler := newHandler(t, service, ledger)

	rec := deliver(handler, payload, header)
	if rec.Code < http.StatusInternalServerError {
		t.Fatalf("expected 5xx when the completed marker cannot be written, got %d", rec.Code)
	}
	if ledger.status["evt_cw_1"] != enums.WebhookEventStatusFailed {
		t.Fatalf("expected claim released to failed, got %s", ledger.status["evt_cw_1"])
	}

	// once the ledger recovers, the provider's retry must process again
	ledger.completeErr = nil
	rec2 := deliver(handler, payload, header)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on retry, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.calls != 2 {
		t.Fatalf("expected retry processed, call count %d", service.calls)
	}
	if ledger.status["evt_cw_1"] != enums.WebhookEventStatusCompleted {
		t.Fatalf("expected retry to complete the row, got %s", ledger.status["evt_cw_1"])
	}
}

func TestStripeWebhook_LedgerClaimFailureDegrades(t *testing.T) {
	payload, header := buildSignedEvent(t, "evt_degraded_1")
	service := &fakeWebhookService{outcome: stripewebhook.OutcomeCompleted}
	ledger := newFakeLedger()
	ledger.claimErr = pkgerrors.New(pkgerrors.CodeDependency, "db down")
	handler := newHandler(t, service, ledger)

	rec := deliver(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 in degraded mode, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected event processed despite claim failure, call count %d", service.calls)
	}
}

func deliver(handler http.HandlerFunc, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func newHandler(t *testing.T, service *fakeWebhookService, ledger *fakeLedger) http.HandlerFunc {
	t.Helper()
	return newHandlerWithClient(t, service, ledger, &fakeSigningClient{secret: "whsec_test"})
}

func newHandlerWithClient(t *testing.T, service *fakeWebhookService, ledger *fakeLedger, client *fakeSigningClient) http.HandlerFunc {
	t.Helper()
	guard, err := stripewebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "stripe")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "test"})
	webhookMetrics := metrics.NewWebhookMetrics(prometheus.NewRegistry())
	return StripeWebhook(service, client, guard, ledger, webhookMetrics, logg)
}

func buildSignedEvent(t *testing.T, eventID string) ([]byte, string) {
	t.Helper()
	subscription := &stripe.Subscription{
		ID:       "sub_ctrl_1",
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: "cus_ctrl_1"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					CurrentPeriodStart: 1735689600,
					CurrentPeriodEnd:   1738368000,
					Price:              &stripe.Price{ID: "price_clearpix_pro_monthly"},
				},
			},
		},
	}
	rawSub, err := json.Marshal(subscription)
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	event := &stripe.Event{
		ID:         eventID,
		Type:       stripe.EventTypeCustomerSubscriptionUpdated,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data: &stripe.EventData{
			Raw: rawSub,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	header := buildStripeSignatureHeader(payload, "whsec_test", time.Now().Unix())
	return payload, header
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeWebhookService struct {
	calls   int
	outcome stripewebhook.Outcome
	err     error
}

func (f *fakeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

type fakeSigningClient struct {
	secret string
	skip   bool
}

func (c *fakeSigningClient) SigningSecret() string { return c.secret }

func (c *fakeSigningClient) SkipSignatureVerification() bool { return c.skip }

type fakeLedger struct {
	mu          sync.Mutex
	status      map[string]enums.WebhookEventStatus
	claimErr    error
	completeErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{status: map[string]enums.WebhookEventStatus{}}
}

func (l *fakeLedger) Claim(ctx context.Context, eventID, eventType string, payload json.RawMessage) (stripewebhook.ClaimResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimErr != nil {
		return stripewebhook.ClaimResult{}, l.claimErr
	}
	existing, ok := l.status[eventID]
	if !ok || existing == enums.WebhookEventStatusFailed {
		l.status[eventID] = enums.WebhookEventStatusProcessing
		return stripewebhook.ClaimResult{IsNew: true}, nil
	}
	return stripewebhook.ClaimResult{IsNew: false, ExistingStatus: existing}, nil
}

func (l *fakeLedger) Complete(ctx context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.completeErr != nil {
		return l.completeErr
	}
	l.status[eventID] = enums.WebhookEventStatusCompleted
	return nil
}

func (l *fakeLedger) Fail(ctx context.Context, eventID, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status[eventID] = enums.WebhookEventStatusFailed
	return nil
}

func (l *fakeLedger) MarkUnrecoverable(ctx context.Context, eventID, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status[eventID] = enums.WebhookEventStatusUnrecoverable
	return nil
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("cpx:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
