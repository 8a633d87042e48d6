package billing

import "net/http"

// Provider is the generic interface that any billing backend must implement.
// This keeps the application free to swap payment processors with zero logic
// changes: the rest of the system only ever reads the entitlement record.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time
	// events. The implementation handles signature verification, parsing,
	// and entitlement updates internally.
	WebhookHandler() http.Handler
}
