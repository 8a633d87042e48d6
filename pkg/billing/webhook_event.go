package billing

import "time"

// WebhookEvent describes a successfully processed webhook event. It is
// passed to the WebhookCallback after the entitlement has been merged.
type WebhookEvent struct {
	// Email is the normalized contact identifier the event resolved to.
	Email string

	// Provider is the billing provider name (e.g., "stripe").
	Provider string

	// EventType is the provider-specific event type, e.g.
	// "checkout.session.completed" or "customer.subscription.deleted".
	EventType string

	// EventTimestamp is when the event occurred, per the provider.
	EventTimestamp time.Time

	// IsPaid reports the entitlement outcome the event declared, when the
	// event declared one. Nil for events that did not touch entitlement.
	IsPaid *bool
}
