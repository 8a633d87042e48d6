package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// WebhookCallback is invoked after an event has been successfully merged
// into the entitlement store. Analytics and notification pipelines hook in
// here; a callback error is logged but never fails the webhook response.
type WebhookCallback func(ctx context.Context, event WebhookEvent) error

// Config defines the standard configuration all providers should accept.
// Secrets are passed in explicitly and validated once at construction; no
// provider reads the process environment per request.
type Config struct {
	// Manager is the entitlement manager that receives reconciled snapshots.
	Manager *entitlement.Manager

	// WebhookSecret is the shared secret used to verify inbound
	// notification signatures.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider
	// (customer lookup, checkout session creation).
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Logger is an optional structured logger. If nil, logging is a no-op.
	Logger entitlement.Logger

	// Metrics is an optional metrics collector for billing operations.
	// If nil, metrics are silently ignored (no-op).
	// Use billing/metrics/prometheus.NewMetrics for Prometheus metrics.
	Metrics Metrics

	// WebhookCallback is optionally invoked after each successful merge.
	WebhookCallback WebhookCallback
}
