package allowance_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/store/memory"
	"github.com/xraph/allowance/tier"
)

type countingPlugin struct {
	created   atomic.Int32
	changed   atomic.Int32
	signedOut atomic.Int32
	failed    atomic.Int32
}

func (p *countingPlugin) Name() string { return "counting" }

func (p *countingPlugin) OnRecordCreated(context.Context, *entitlement.Record) error {
	p.created.Add(1)
	return nil
}

func (p *countingPlugin) OnTierChanged(context.Context, *entitlement.Record, tier.ID, tier.ID) error {
	p.changed.Add(1)
	return nil
}

func (p *countingPlugin) OnSignedOut(context.Context, string) error {
	p.signedOut.Add(1)
	return nil
}

func (p *countingPlugin) OnReconcileFailed(context.Context, string, error) error {
	p.failed.Add(1)
	return nil
}

// ──────────────────────────────────────────────────
// Session
// ──────────────────────────────────────────────────

func TestSignIn_SetsCurrentIdentity(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.CurrentIdentity(ctx)
	require.ErrorIs(t, err, allowance.ErrNotSignedIn)

	rec, err := e.SignIn(ctx, u1)
	require.NoError(t, err)
	assert.Equal(t, tier.Free, rec.TierID)

	cur, err := e.CurrentIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, u1.ID, cur)

	got, err := e.CurrentRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.GenerationsRemaining, got.GenerationsRemaining)
}

func TestSignOut_DeletesRecordByDefault(t *testing.T) {
	ctx := context.Background()
	p := &countingPlugin{}
	e := newEngine(t, allowance.WithPlugin(p))

	_, err := e.SignIn(ctx, u1)
	require.NoError(t, err)
	_, err = e.BeginPurchase(ctx, u1.ID, tier.Basic)
	require.NoError(t, err)

	require.NoError(t, e.SignOut(ctx))

	_, err = e.CurrentIdentity(ctx)
	require.ErrorIs(t, err, allowance.ErrNotSignedIn)
	_, err = e.Record(ctx, u1.ID)
	require.ErrorIs(t, err, allowance.ErrUnknownIdentity)
	_, err = e.PendingPurchase(ctx, u1.ID)
	require.ErrorIs(t, err, allowance.ErrPendingNotFound)
	assert.EqualValues(t, 1, p.signedOut.Load())
}

func TestSignOut_RetainOption(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, allowance.WithRetainOnSignOut())

	_, err := e.SignIn(ctx, u1)
	require.NoError(t, err)
	_, err = e.TryConsume(ctx, u1.ID)
	require.NoError(t, err)
	require.NoError(t, e.SignOut(ctx))

	rec, err := e.SignIn(ctx, u1)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.GenerationsRemaining)
}

func TestSignOut_NotSignedIn(t *testing.T) {
	e := newEngine(t)
	require.ErrorIs(t, e.SignOut(context.Background()), allowance.ErrNotSignedIn)
}

// ──────────────────────────────────────────────────
// Checkout
// ──────────────────────────────────────────────────

func TestUpgrade_RequestsSessionWithoutGrantingTier(t *testing.T) {
	ctx := context.Background()
	c := &fakeCheckout{}
	e := newEngine(t, allowance.WithCheckout(c))
	_, err := e.SignIn(ctx, u1)
	require.NoError(t, err)

	h, err := e.Upgrade(ctx, u1.ID, tier.Plus)
	require.NoError(t, err)
	assert.Equal(t, purchase.SessionCheckout, h.Kind)
	assert.Equal(t, []tier.ID{tier.Plus}, c.requested)

	rec, err := e.Record(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, tier.Free, rec.TierID)

	p, err := e.PendingPurchase(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, tier.Plus, p.TierID)
}

func TestUpgrade_CheckoutUnavailableCancelsPending(t *testing.T) {
	ctx := context.Background()
	c := &fakeCheckout{err: errDown}
	e := newEngine(t, allowance.WithCheckout(c))
	before, err := e.SignIn(ctx, u1)
	require.NoError(t, err)

	_, err = e.Upgrade(ctx, u1.ID, tier.Pro)
	require.ErrorIs(t, err, allowance.ErrCheckoutUnavailable)
	assert.True(t, allowance.IsRetryable(err))

	_, err = e.PendingPurchase(ctx, u1.ID)
	require.ErrorIs(t, err, allowance.ErrPendingNotFound)

	after, err := e.Record(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpgrade_ZeroTier(t *testing.T) {
	ctx := context.Background()
	c := &fakeCheckout{}
	e := newEngine(t, allowance.WithCheckout(c))
	_, err := e.SignIn(ctx, u1)
	require.NoError(t, err)

	_, err = e.Upgrade(ctx, u1.ID, tier.Free)
	require.ErrorIs(t, err, allowance.ErrInvalidTier)
	assert.Empty(t, c.requested)
}

func TestManageBilling(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, allowance.WithCheckout(&fakeCheckout{}))
	_, err := e.SignIn(ctx, u1)
	require.NoError(t, err)

	h, err := e.ManageBilling(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.SessionPortal, h.Kind)

	_, err = newEngine(t).ManageBilling(ctx, u1.ID)
	require.ErrorIs(t, err, allowance.ErrNoCheckout)
}

// ──────────────────────────────────────────────────
// Return from checkout
// ──────────────────────────────────────────────────

func TestHandleReturn_SuccessReconcilesOnce(t *testing.T) {
	ctx := context.Background()
	o := &fakeOracle{tier: tier.Plus}
	p := &countingPlugin{}
	e := newEngine(t, allowance.WithOracle(o), allowance.WithCheckout(&fakeCheckout{}), allowance.WithPlugin(p))
	_, err := e.SignIn(ctx, u1)
	require.NoError(t, err)
	_, err = e.Upgrade(ctx, u1.ID, tier.Plus)
	require.NoError(t, err)

	res, err := e.HandleReturn(ctx, purchase.ReturnSignal{Outcome: purchase.OutcomeSuccess})
	require.NoError(t, err)
	assert.Equal(t, 1, o.Calls())
	assert.True(t, res.Changed)
	assert.Equal(t, tier.Plus, res.Requested)
	assert.Equal(t, 200, res.Record.GenerationsRemaining)
	assert.EqualValues(t, 1, p.changed.Load())

	_, err = e.PendingPurchase(ctx, u1.ID)
	require.ErrorIs(t, err, allowance.ErrPendingNotFound)
}

func TestHandleReturn_SuccessButOracleDisagrees(t *testing.T) {
	ctx := context.Background()
	o := &fakeOracle{tier: tier.Free}
	e := newEngine(t, allowance.WithOracle(o), allowance.WithCheckout(&fakeCheckout{}))
	_, err := e.SignIn(ctx, u1)
	require.NoError(t, err)
	_, err = e.TryConsume(ctx, u1.ID)
	require.NoError(t, err)
	_, err = e.Upgrade(ctx, u1.ID, tier.Pro)
	require.NoError(t, err)

	res, err := e.HandleReturn(ctx, purchase.ReturnSignal{Outcome: purchase.OutcomeSuccess})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, tier.Free, res.Record.TierID)
	assert.Equal(t, 4, res.Record.GenerationsRemaining)
}

func TestHandleReturn_CancelDoesNotReconcile(t *testing.T) {
	ctx := context.Background()
	o := &fakeOracle{tier: tier.Plus}
	e := newEngine(t, allowance.WithOracle(o), allowance.WithCheckout(&fakeCheckout{}))
	_, err := e.SignIn(ctx, u1)
	require.NoError(t, err)
	_, err = e.Upgrade(ctx, u1.ID, tier.Plus)
	require.NoError(t, err)

	_, err = e.HandleReturn(ctx, purchase.ReturnSignal{Outcome: purchase.OutcomeCanceled})
	require.NoError(t, err)
	assert.Equal(t, 0, o.Calls())

	_, err = e.PendingPurchase(ctx, u1.ID)
	require.ErrorIs(t, err, allowance.ErrPendingNotFound)
	rec, err := e.Record(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, tier.Free, rec.TierID)
}

func TestHandleReturn_SuccessWithoutSession(t *testing.T) {
	o := &fakeOracle{tier: tier.Plus}
	e := newEngine(t, allowance.WithOracle(o))

	_, err := e.HandleReturn(context.Background(), purchase.ReturnSignal{Outcome: purchase.OutcomeSuccess})
	require.ErrorIs(t, err, allowance.ErrNotSignedIn)
	assert.Equal(t, 0, o.Calls())
}

func TestHandleReturn_OracleFailureReported(t *testing.T) {
	ctx := context.Background()
	o := &fakeOracle{err: allowance.ErrOracleUnreachable}
	p := &countingPlugin{}
	e := newEngine(t, allowance.WithOracle(o), allowance.WithPlugin(p))
	before, err := e.SignIn(ctx, u1)
	require.NoError(t, err)

	_, err = e.HandleReturn(ctx, purchase.ReturnSignal{Outcome: purchase.OutcomeSuccess})
	require.ErrorIs(t, err, allowance.ErrOracleUnreachable)
	assert.EqualValues(t, 1, p.failed.Load())

	after, err := e.Record(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestHandleReturn_NoSignal(t *testing.T) {
	e := newEngine(t)
	_, err := e.HandleReturn(context.Background(), purchase.ReturnSignal{})
	require.NoError(t, err)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestStop_ClosesStore(t *testing.T) {
	s := memory.New()
	e := allowance.New(s)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop())
	require.ErrorIs(t, s.Ping(context.Background()), allowance.ErrStoreClosed)
}

func TestCustomCatalog(t *testing.T) {
	cat, err := tier.NewCatalog(
		tier.Tier{ID: "trial", Name: "Trial", MonthlyQuota: 2},
		tier.Tier{ID: "paid", Name: "Paid", MonthlyQuota: 10, PriceRef: "price_paid"},
	)
	require.NoError(t, err)

	ctx := context.Background()
	e := newEngine(t, allowance.WithCatalog(cat))
	rec, err := e.GetOrCreate(ctx, u1)
	require.NoError(t, err)
	assert.Equal(t, tier.ID("trial"), rec.TierID)
	assert.Equal(t, 2, rec.GenerationsRemaining)

	rec, err = e.Reconcile(ctx, u1.ID, "paid")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.GenerationsRemaining)

	left, err := e.GuestRemaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, cat.GuestAllowance(), left)
}
