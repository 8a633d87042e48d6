package entitlement

import (
	"context"
	"errors"
	"fmt"
)

// Config holds Manager configuration.
type Config struct {
	// Logger is an optional structured logger. If nil, logging is a no-op.
	// Use logger/zerolog.NewLogger for zerolog output.
	Logger Logger
}

// Manager is the application-facing surface of the entitlement subsystem.
// Writes go through Apply (billing webhooks only); reads go through Get and
// IsPaid (route guards, paywall screens). The Manager never talks to the
// payment processor.
type Manager struct {
	store  Store
	logger Logger
}

// NewManager creates a Manager on top of a Store.
func NewManager(store Store, config *Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	var logger Logger = &NoopLogger{}
	if config != nil && config.Logger != nil {
		logger = config.Logger
	}

	return &Manager{store: store, logger: logger}, nil
}

// Apply merges a reconciled snapshot into the record for email.
// The email is normalized here so every write path shares one key space.
// The paid-at invariant is enforced before the write: a snapshot setting
// IsPaid=false has its PaidAt cleared, and a snapshot setting IsPaid=true
// without a timestamp is rejected rather than stored inconsistent.
func (m *Manager) Apply(ctx context.Context, email string, snap *Snapshot) error {
	key := NormalizeEmail(email)
	if key == "" {
		return ErrInvalidEmail
	}
	if snap == nil || snap.IsZero() {
		return fmt.Errorf("%w: no fields set", ErrInvalidSnapshot)
	}

	if snap.IsPaid != nil {
		if *snap.IsPaid && snap.PaidAt == nil {
			return fmt.Errorf("%w: paid without paid_at", ErrInvalidSnapshot)
		}
		if !*snap.IsPaid {
			snap.PaidAt = nil
		}
	}

	if err := m.store.Merge(ctx, key, snap); err != nil {
		m.logger.Error("entitlement merge failed",
			Field{Key: "email", Value: key},
			Field{Key: "error", Value: err.Error()},
		)
		return err
	}

	m.logger.Info("entitlement merged",
		Field{Key: "email", Value: key},
		Field{Key: "is_paid", Value: snap.IsPaid},
	)
	return nil
}

// Get returns the record for an email, or ErrRecordNotFound.
func (m *Manager) Get(ctx context.Context, email string) (*Record, error) {
	key := NormalizeEmail(email)
	if key == "" {
		return nil, ErrInvalidEmail
	}
	return m.store.GetByEmail(ctx, key)
}

// IsPaid reports whether the email currently has paid access. A missing
// record reads as not paid, never as an error.
func (m *Manager) IsPaid(ctx context.Context, email string) (bool, error) {
	rec, err := m.Get(ctx, email)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.IsPaid, nil
}

// Ping checks the backing store.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}
