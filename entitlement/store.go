package entitlement

import "context"

// Store persists entitlement records keyed by identity ID. It carries no
// business logic; the engine owns every mutation.
type Store interface {
	// Get returns the record for identityID or a not-found error.
	Get(ctx context.Context, identityID string) (*Record, error)
	// Put inserts or fully replaces a record.
	Put(ctx context.Context, r *Record) error
	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, identityID string) error
	// Decrement lowers GenerationsRemaining by one only if it is positive,
	// as a single conditional write. It reports whether a decrement happened
	// and returns the record as it stands afterwards.
	Decrement(ctx context.Context, identityID string) (*Record, bool, error)
}
