package entitlement

import "context"

// Store defines the interface for entitlement persistence.
// All methods use concrete types from this package to avoid import cycles.
type Store interface {
	// GetByEmail retrieves the record for a normalized email.
	// Returns ErrRecordNotFound when no record exists.
	GetByEmail(ctx context.Context, email string) (*Record, error)

	// Merge inserts a record for email if none exists, otherwise overwrites
	// only the fields present in the snapshot, and sets UpdatedAt. The
	// merge must be atomic from the store's perspective: two concurrent
	// merges for the same email must interleave as whole operations, never
	// duplicate the row, and never interleave field-by-field. Records are
	// only ever flipped, never deleted.
	Merge(ctx context.Context, email string, snap *Snapshot) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}
