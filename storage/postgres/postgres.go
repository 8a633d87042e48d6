// Package postgres provides a PostgreSQL implementation of the
// entitlement.Store interface. Merge is a single INSERT ... ON CONFLICT
// statement that only touches the columns the snapshot declares, so
// concurrent webhook deliveries for the same email serialize on the row
// without an explicit transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// Storage implements entitlement.Store using PostgreSQL.
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate runs the embedded schema migrations on startup
	AutoMigrate bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// New creates a new PostgreSQL storage adapter.
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{
		pool:   pool,
		config: config,
	}

	if config.AutoMigrate {
		if err := Migrate(pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return s, nil
}

// Close closes the PostgreSQL connection pool.
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetByEmail implements entitlement.Store.
func (s *Storage) GetByEmail(ctx context.Context, email string) (*entitlement.Record, error) {
	var rec entitlement.Record

	err := s.pool.QueryRow(ctx,
		`SELECT email, external_customer_id, last_checkout_session_id, payment_status,
				is_paid, paid_at, subscription_id, subscription_status,
				current_period_end, cancel_at_period_end, last_invoice_id, updated_at
			FROM entitlements WHERE email = $1`,
		email).Scan(
		&rec.Email,
		&rec.ExternalCustomerID,
		&rec.LastCheckoutSessionID,
		&rec.PaymentStatus,
		&rec.IsPaid,
		&rec.PaidAt,
		&rec.SubscriptionID,
		&rec.SubscriptionStatus,
		&rec.CurrentPeriodEnd,
		&rec.CancelAtPeriodEnd,
		&rec.LastInvoiceID,
		&rec.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}

	return &rec, nil
}

// Merge implements entitlement.Store. The statement is built from the fields
// the snapshot declares, inserts the row when missing and otherwise updates
// exactly those columns. One statement means one row lock; interleaved
// merges for the same email cannot produce a torn record.
func (s *Storage) Merge(ctx context.Context, email string, snap *entitlement.Snapshot) error {
	if email == "" {
		return entitlement.ErrInvalidEmail
	}
	if snap == nil || snap.IsZero() {
		return entitlement.ErrInvalidSnapshot
	}

	cols := []string{"email"}
	args := []interface{}{email}
	set := func(col string, val interface{}) {
		cols = append(cols, col)
		args = append(args, val)
	}

	if snap.ExternalCustomerID != nil {
		set("external_customer_id", *snap.ExternalCustomerID)
	}
	if snap.LastCheckoutSessionID != nil {
		set("last_checkout_session_id", *snap.LastCheckoutSessionID)
	}
	if snap.PaymentStatus != nil {
		set("payment_status", *snap.PaymentStatus)
	}
	if snap.IsPaid != nil {
		set("is_paid", *snap.IsPaid)
		// paid_at always rides along with is_paid: a revocation must
		// clear the stale timestamp, not leave it behind.
		if snap.PaidAt != nil {
			set("paid_at", snap.PaidAt.UTC())
		} else {
			set("paid_at", nil)
		}
	}
	if snap.SubscriptionID != nil {
		set("subscription_id", *snap.SubscriptionID)
	}
	if snap.SubscriptionStatus != nil {
		set("subscription_status", *snap.SubscriptionStatus)
	}
	if snap.CurrentPeriodEnd != nil {
		set("current_period_end", snap.CurrentPeriodEnd.UTC())
	}
	if snap.CancelAtPeriodEnd != nil {
		set("cancel_at_period_end", *snap.CancelAtPeriodEnd)
	}
	if snap.LastInvoiceID != nil {
		set("last_invoice_id", *snap.LastInvoiceID)
	}
	set("updated_at", time.Now().UTC())

	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-1)
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "email" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	query := fmt.Sprintf(
		`INSERT INTO entitlements (%s) VALUES (%s)
			ON CONFLICT (email) DO UPDATE SET %s`,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to merge entitlement: %w", err)
	}

	return nil
}

// Ping checks the PostgreSQL connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
