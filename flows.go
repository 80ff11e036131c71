package allowance

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/tier"
)

// ──────────────────────────────────────────────────
// Session
// ──────────────────────────────────────────────────

// SignIn ensures a record exists for ident and makes it the current session.
func (e *Engine) SignIn(ctx context.Context, ident identity.Identity) (*entitlement.Record, error) {
	rec, err := e.GetOrCreate(ctx, ident)
	if err != nil {
		return nil, err
	}
	if err := e.sessions.SetCurrent(ctx, ident.ID); err != nil {
		return nil, e.persistenceFault("set current session", ident.ID, err)
	}

	e.logger.Info("signed in",
		"identity_id", ident.ID,
		"tier", rec.TierID,
	)
	return rec, nil
}

// CurrentIdentity returns the signed-in identity ID or ErrNotSignedIn.
func (e *Engine) CurrentIdentity(ctx context.Context) (string, error) {
	cur, err := e.sessions.Current(ctx)
	if err != nil {
		return "", e.persistenceFault("get current session", "", err)
	}
	if cur == "" {
		return "", ErrNotSignedIn
	}
	return cur, nil
}

// CurrentRecord returns the record of the signed-in identity.
func (e *Engine) CurrentRecord(ctx context.Context) (*entitlement.Record, error) {
	cur, err := e.CurrentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return e.Record(ctx, cur)
}

// SignOut ends the current session and drops the identity's pending
// purchase. The entitlement record is deleted too unless the engine was
// built WithRetainOnSignOut.
func (e *Engine) SignOut(ctx context.Context) error {
	cur, err := e.CurrentIdentity(ctx)
	if err != nil {
		return err
	}

	unlock, err := e.locks.Lock(ctx, cur)
	if err != nil {
		return err
	}
	err = e.signOutLocked(ctx, cur)
	unlock()
	if err != nil {
		return err
	}

	if err := e.sessions.ClearCurrent(ctx); err != nil {
		return e.persistenceFault("clear current session", cur, err)
	}

	e.logger.Info("signed out", "identity_id", cur, "retained", e.retainOnSignOut)
	e.plugins.EmitSignedOut(ctx, cur)
	return nil
}

func (e *Engine) signOutLocked(ctx context.Context, identityID string) error {
	if err := e.purchases.Delete(ctx, identityID); err != nil {
		return e.persistenceFault("delete pending purchase", identityID, err)
	}
	if e.retainOnSignOut {
		return nil
	}
	if err := e.records.Delete(ctx, identityID); err != nil {
		return e.persistenceFault("delete record", identityID, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Checkout
// ──────────────────────────────────────────────────

// Upgrade records a pending purchase of tierID and requests a checkout
// session for it. If the session cannot be created the pending purchase
// is cancelled again.
func (e *Engine) Upgrade(ctx context.Context, identityID string, tierID tier.ID) (purchase.SessionHandle, error) {
	if e.checkout == nil {
		return purchase.SessionHandle{}, ErrNoCheckout
	}

	pending, err := e.BeginPurchase(ctx, identityID, tierID)
	if err != nil {
		return purchase.SessionHandle{}, err
	}
	rec, err := e.Record(ctx, identityID)
	if err != nil {
		return purchase.SessionHandle{}, err
	}
	t, err := e.catalog.Lookup(pending.TierID)
	if err != nil {
		return purchase.SessionHandle{}, fmt.Errorf("%w: %q", ErrUnknownTier, pending.TierID)
	}

	h, err := e.checkout.RequestPurchaseSession(ctx, t, rec.Identity())
	if err != nil {
		e.logger.Warn("checkout session failed",
			"identity_id", identityID,
			"tier", t.ID,
			"error", err,
		)
		if cerr := e.CancelPurchase(ctx, identityID); cerr != nil {
			return purchase.SessionHandle{}, errors.Join(checkoutErr(err), cerr)
		}
		return purchase.SessionHandle{}, checkoutErr(err)
	}
	return h, nil
}

// ManageBilling requests a billing-portal session for the identity.
func (e *Engine) ManageBilling(ctx context.Context, identityID string) (purchase.SessionHandle, error) {
	if e.checkout == nil {
		return purchase.SessionHandle{}, ErrNoCheckout
	}
	rec, err := e.Record(ctx, identityID)
	if err != nil {
		return purchase.SessionHandle{}, err
	}

	h, err := e.checkout.RequestManagementSession(ctx, rec.Identity())
	if err != nil {
		e.logger.Warn("billing portal session failed",
			"identity_id", identityID,
			"error", err,
		)
		return purchase.SessionHandle{}, checkoutErr(err)
	}
	return h, nil
}

// HandleReturn reacts to the actor coming back from checkout. Success with
// a signed-in identity runs exactly one Sync; cancel drops the pending
// purchase and does not contact the oracle.
func (e *Engine) HandleReturn(ctx context.Context, sig purchase.ReturnSignal) (SyncResult, error) {
	switch sig.Outcome {
	case purchase.OutcomeSuccess:
		cur, err := e.CurrentIdentity(ctx)
		if err != nil {
			return SyncResult{}, err
		}
		return e.Sync(ctx, cur)

	case purchase.OutcomeCanceled:
		cur, err := e.CurrentIdentity(ctx)
		if errors.Is(err, ErrNotSignedIn) {
			return SyncResult{}, nil
		}
		if err != nil {
			return SyncResult{}, err
		}
		return SyncResult{}, e.CancelPurchase(ctx, cur)

	default:
		return SyncResult{}, nil
	}
}

func checkoutErr(err error) error {
	if errors.Is(err, ErrCheckoutUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCheckoutUnavailable, err)
}
