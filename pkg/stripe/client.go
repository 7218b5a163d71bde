package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/clearpix/billing-backend/pkg/config"
	"github.com/clearpix/billing-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	testSecretPrefix = "whsec_test"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client wraps Stripe's API client plus env-specific metadata.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
	skipVerify    bool
}

// NewClient initializes Stripe once with the configured secrets and env.
// Signature verification can only be disabled when BOTH the skip flag is set
// and the signing secret carries the test prefix; a flag alone never bypasses
// verification in a live environment.
func NewClient(ctx context.Context, cfg config.StripeConfig, billing config.BillingConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	api := stripe.NewClient(apiKey)
	stripe.Key = apiKey

	skip := billing.WebhookSkipVerify &&
		env == testEnv &&
		strings.HasPrefix(signingSecret, testSecretPrefix)

	if logg != nil {
		msg := fmt.Sprintf("stripe client initialized (%s)", env)
		if skip {
			msg += " with webhook verification disabled"
		}
		logg.Info(ctx, msg)
	}

	return &Client{
		api:           api,
		environment:   env,
		signingSecret: signingSecret,
		skipVerify:    skip,
	}, nil
}

// API returns the underlying Stripe API client.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// IsLive reports whether the client targets the live Stripe environment.
func (c *Client) IsLive() bool {
	return c != nil && c.environment == liveEnv
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// SkipSignatureVerification reports whether webhook signature checks are
// bypassed. Requires test env, the skip flag, and a whsec_test secret.
func (c *Client) SkipSignatureVerification() bool {
	return c != nil && c.skipVerify
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
