// Package memory provides an in-memory implementation of the
// entitlement.Store interface. This implementation is primarily intended for
// testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// Store implements entitlement.Store using an in-memory map.
type Store struct {
	mu      sync.RWMutex
	records map[string]*entitlement.Record

	// now is swappable for tests
	now func() time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		records: make(map[string]*entitlement.Record),
		now:     time.Now,
	}
}

// GetByEmail implements entitlement.Store.
func (s *Store) GetByEmail(ctx context.Context, email string) (*entitlement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[email]
	if !ok {
		return nil, entitlement.ErrRecordNotFound
	}

	// Return a copy to prevent external mutations
	recCopy := *rec
	return &recCopy, nil
}

// Merge implements entitlement.Store. The whole merge happens under one
// lock, matching the single-statement atomicity of the SQL stores.
func (s *Store) Merge(ctx context.Context, email string, snap *entitlement.Snapshot) error {
	if email == "" {
		return entitlement.ErrInvalidEmail
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[email]
	if !ok {
		rec = &entitlement.Record{Email: email}
		s.records[email] = rec
	}

	if snap.ExternalCustomerID != nil {
		rec.ExternalCustomerID = *snap.ExternalCustomerID
	}
	if snap.LastCheckoutSessionID != nil {
		rec.LastCheckoutSessionID = *snap.LastCheckoutSessionID
	}
	if snap.PaymentStatus != nil {
		rec.PaymentStatus = *snap.PaymentStatus
	}
	if snap.IsPaid != nil {
		rec.IsPaid = *snap.IsPaid
		if snap.PaidAt != nil {
			t := *snap.PaidAt
			rec.PaidAt = &t
		} else {
			rec.PaidAt = nil
		}
	}
	if snap.SubscriptionID != nil {
		rec.SubscriptionID = *snap.SubscriptionID
	}
	if snap.SubscriptionStatus != nil {
		rec.SubscriptionStatus = *snap.SubscriptionStatus
	}
	if snap.CurrentPeriodEnd != nil {
		t := *snap.CurrentPeriodEnd
		rec.CurrentPeriodEnd = &t
	}
	if snap.CancelAtPeriodEnd != nil {
		b := *snap.CancelAtPeriodEnd
		rec.CancelAtPeriodEnd = &b
	}
	if snap.LastInvoiceID != nil {
		rec.LastInvoiceID = *snap.LastInvoiceID
	}
	rec.UpdatedAt = s.now().UTC()

	return nil
}

// Ping implements entitlement.Store.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored records. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
