// Package stripe implements the billing.Provider interface for Stripe.
//
// The webhook pipeline tolerates the delivery characteristics of Stripe's
// event stream: out-of-order arrival, at-least-once redelivery, and payloads
// that identify the customer inconsistently (session email, invoice email,
// customer-record email, or none). Each event reconciles to a partial
// entitlement snapshot that declares only the fields the event itself knows,
// and the store merges snapshots atomically per email, so the final record
// converges regardless of arrival order.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/betledger/pkg/billing"
	"github.com/mihaimyh/betledger/pkg/entitlement"
)

const (
	providerName       = "stripe"
	defaultHTTPTimeout = 10 * time.Second
	maxWebhookBody     = 256 * 1024

	// status tokens as Stripe spells them
	checkoutStatusPaid         = "paid"
	paymentStatusPaid          = "paid"
	paymentStatusFailed        = "payment_failed"
	subscriptionStatusActive   = "active"
	subscriptionStatusTrialing = "trialing"
)

// customerLookup retrieves the email on a Stripe customer record.
// The production implementation calls the Stripe API; tests stub it.
type customerLookup func(ctx context.Context, customerID string) (string, error)

// Config extends billing.Config with Stripe-specific options.
type Config struct {
	billing.Config // Base config (Manager, Metrics, Logger, etc.)

	// StripeAPIKey authenticates outbound API calls (customer lookup,
	// checkout sessions). Required.
	StripeAPIKey string

	// StripeWebhookSecret verifies inbound webhook signatures. A provider
	// without it can still create checkout sessions; its webhook handler
	// answers 500 until the secret is configured so Stripe keeps retrying.
	StripeWebhookSecret string
}

// Provider implements the billing.Provider interface for Stripe.
type Provider struct {
	manager       *entitlement.Manager
	config        Config
	httpClient    *http.Client
	webhookSecret []byte
	apiKey        string
	stripeClient  *stripe.Client
	logger        entitlement.Logger
	metrics       billing.Metrics
	callback      billing.WebhookCallback

	// lookupEmail and now are swappable seams for tests
	lookupEmail customerLookup
	now         func() time.Time
}

// NewProvider creates a new Stripe billing provider. Configuration is
// validated here, once; nothing is read from the environment per request.
func NewProvider(config Config) (*Provider, error) {
	if config.Manager == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	var logger entitlement.Logger = &entitlement.NoopLogger{}
	if config.Logger != nil {
		logger = config.Logger
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	p := &Provider{
		manager:       config.Manager,
		config:        config,
		httpClient:    httpClient,
		webhookSecret: []byte(strings.TrimSpace(config.StripeWebhookSecret)),
		apiKey:        apiKey,
		stripeClient:  stripe.NewClient(apiKey),
		logger:        logger,
		metrics:       metrics,
		callback:      config.WebhookCallback,
		now:           time.Now,
	}
	p.lookupEmail = p.lookupCustomerEmail
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks.
func (p *Provider) WebhookHandler() http.Handler {
	return http.HandlerFunc(p.handleWebhook)
}
