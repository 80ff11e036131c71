// Package session holds the process-wide pointer to the identity that is
// currently signed in. Engine operations take identities explicitly; only
// the sign-in flow and the return-from-checkout handler read this pointer.
package session

import "context"

// Store persists the current-session identity pointer.
type Store interface {
	// Current returns the signed-in identity ID, or "" when nobody is signed in.
	Current(ctx context.Context) (string, error)
	SetCurrent(ctx context.Context, identityID string) error
	ClearCurrent(ctx context.Context) error
}
