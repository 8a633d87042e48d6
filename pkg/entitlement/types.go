// Package entitlement tracks, per customer email, whether paid access is
// currently granted. The record is written exclusively by the billing
// webhook pipeline and read by everything else (route guards, paywall
// screens) through Manager.
package entitlement

import "time"

// Record is the persisted entitlement state for one customer, keyed by
// normalized email. The processor's own customer ID is not always known at
// first contact, so email is the natural key.
type Record struct {
	// Email is the normalized (trimmed, lower-cased) natural key.
	Email string

	// ExternalCustomerID is the payment processor's customer ID,
	// learned opportunistically from events.
	ExternalCustomerID string

	// LastCheckoutSessionID is the most recent checkout session seen.
	LastCheckoutSessionID string

	// PaymentStatus is the last raw status token seen from the processor
	// (checkout payment_status, "paid", "payment_failed", or a
	// subscription status).
	PaymentStatus string

	// IsPaid gates access to paid features. It is the single field the
	// rest of the application reads.
	IsPaid bool

	// PaidAt is set when IsPaid transitions to true and nil otherwise.
	PaidAt *time.Time

	SubscriptionID     string
	SubscriptionStatus string

	// CurrentPeriodEnd is the end of the current billing period, if known.
	CurrentPeriodEnd *time.Time

	// CancelAtPeriodEnd mirrors the processor's flag; nil when never seen.
	CancelAtPeriodEnd *bool

	LastInvoiceID string

	// UpdatedAt is set by the store on every successful merge.
	UpdatedAt time.Time
}

// Snapshot is the partial entitlement state implied by a single billing
// event. A nil field means "this event carries no information about the
// field" and the stored value is left untouched by Store.Merge. This is what
// makes reconciliation convergent under out-of-order and duplicate delivery:
// each event only ever overwrites the fields it actually knows.
//
// PaidAt is meaningful only when IsPaid is set. IsPaid=false always writes
// paid_at to null (never leaves a stale timestamp); IsPaid=true writes the
// timestamp in PaidAt.
type Snapshot struct {
	ExternalCustomerID    *string
	LastCheckoutSessionID *string
	PaymentStatus         *string
	IsPaid                *bool
	PaidAt                *time.Time
	SubscriptionID        *string
	SubscriptionStatus    *string
	CurrentPeriodEnd      *time.Time
	CancelAtPeriodEnd     *bool
	LastInvoiceID         *string
}

// IsZero reports whether the snapshot carries no fields at all.
func (s *Snapshot) IsZero() bool {
	return s.ExternalCustomerID == nil &&
		s.LastCheckoutSessionID == nil &&
		s.PaymentStatus == nil &&
		s.IsPaid == nil &&
		s.SubscriptionID == nil &&
		s.SubscriptionStatus == nil &&
		s.CurrentPeriodEnd == nil &&
		s.CancelAtPeriodEnd == nil &&
		s.LastInvoiceID == nil
}

// String returns a pointer to s, for building snapshots literal-style.
func String(s string) *string { return &s }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return &t }
