package entitlement

import "errors"

var (
	// ErrRecordNotFound is returned when no record exists for an email
	ErrRecordNotFound = errors.New("entitlement record not found")

	// ErrInvalidEmail is returned when an email normalizes to empty
	ErrInvalidEmail = errors.New("invalid email")

	// ErrInvalidSnapshot is returned for snapshots that violate the
	// paid-at invariant (IsPaid true without a timestamp)
	ErrInvalidSnapshot = errors.New("invalid entitlement snapshot")

	// ErrStoreUnavailable is returned when the backing store cannot be reached
	ErrStoreUnavailable = errors.New("entitlement store unavailable")
)
