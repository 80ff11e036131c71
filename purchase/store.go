package purchase

import "context"

// Store persists at most one pending purchase per identity.
type Store interface {
	Get(ctx context.Context, identityID string) (*Pending, error)
	Put(ctx context.Context, p *Pending) error
	// Delete clears the pending purchase. Deleting nothing is not an error.
	Delete(ctx context.Context, identityID string) error
}
