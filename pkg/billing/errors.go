package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrCustomerLookupFailed is returned when the provider's customer
	// lookup fails; identity resolution treats this as unresolvable rather
	// than propagating it
	ErrCustomerLookupFailed = errors.New("billing customer lookup failed")

	// ErrStoreFailure is returned when the entitlement merge could not be
	// committed; surfaced as 500 so the processor redelivers the event
	ErrStoreFailure = errors.New("entitlement store write failed")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")
)
