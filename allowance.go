package allowance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/guest"
	"github.com/xraph/allowance/id"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/internal/keylock"
	"github.com/xraph/allowance/plugin"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/session"
	"github.com/xraph/allowance/store"
	"github.com/xraph/allowance/tier"
	"github.com/xraph/allowance/types"
)

// Oracle answers which tier the external billing system currently holds
// for an identity. Its answer is the only thing Reconcile applies.
type Oracle interface {
	FetchAuthoritativeTier(ctx context.Context, ident identity.Identity) (tier.ID, error)
}

// Checkout hands an identity off to the external payment processor.
// Every failure must match ErrCheckoutUnavailable.
type Checkout interface {
	RequestPurchaseSession(ctx context.Context, t tier.Tier, ident identity.Identity) (purchase.SessionHandle, error)
	RequestManagementSession(ctx context.Context, ident identity.Identity) (purchase.SessionHandle, error)
}

// Engine owns every entitlement mutation. Operations on one identity are
// serialized; operations on different identities run concurrently.
type Engine struct {
	store     store.Store
	records   entitlement.Store
	purchases purchase.Store
	sessions  session.Store
	catalog   *tier.Catalog
	guest     guest.Counter
	oracle    Oracle
	checkout  Checkout
	plugins   *plugin.Registry
	logger    *slog.Logger

	locks *keylock.Map
	syncs singleflight.Group

	skipMigrate     bool
	retainOnSignOut bool
}

// New creates a new Engine backed by s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		records:   store.Records(s),
		purchases: store.Purchases(s),
		sessions:  store.Sessions(s),
		plugins:   plugin.NewRegistry(),
		logger:    slog.Default(),
		locks:     keylock.New(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.catalog == nil {
		e.catalog = tier.DefaultCatalog()
	}
	if e.guest == nil {
		e.guest = guest.NewMemory(e.catalog.GuestAllowance())
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCatalog replaces the default tier catalog.
func WithCatalog(c *tier.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithGuestCounter sets the anonymous allowance counter.
func WithGuestCounter(c guest.Counter) Option {
	return func(e *Engine) { e.guest = c }
}

// WithOracle sets the tier oracle used by Sync and HandleReturn.
func WithOracle(o Oracle) Option {
	return func(e *Engine) { e.oracle = o }
}

// WithCheckout sets the payment hand-off used by Upgrade and ManageBilling.
func WithCheckout(c Checkout) Option {
	return func(e *Engine) { e.checkout = c }
}

// WithSessions overrides where the current-session pointer is kept.
func WithSessions(s session.Store) Option {
	return func(e *Engine) { e.sessions = s }
}

// WithSkipMigrate makes Start leave the schema alone.
func WithSkipMigrate() Option {
	return func(e *Engine) { e.skipMigrate = true }
}

// WithRetainOnSignOut keeps the entitlement record when its identity signs
// out, so signing in again resumes the same balance.
func WithRetainOnSignOut() Option {
	return func(e *Engine) { e.retainOnSignOut = true }
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
		}
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("allowance started",
		"tiers", len(e.catalog.All()),
		"guest_allowance", e.catalog.GuestAllowance(),
		"oracle", e.oracle != nil,
		"checkout", e.checkout != nil,
		"plugins", e.plugins.Count(),
	)

	return nil
}

// Stop shuts down the Engine and closes its store.
func (e *Engine) Stop() error {
	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Catalog returns the tier catalog in use.
func (e *Engine) Catalog() *tier.Catalog { return e.catalog }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// ──────────────────────────────────────────────────
// Entitlement records
// ──────────────────────────────────────────────────

// GetOrCreate returns the record for ident, creating it on the zero tier
// with the zero tier's quota if it does not exist. Repeated calls for the
// same identity return the same record.
func (e *Engine) GetOrCreate(ctx context.Context, ident identity.Identity) (*entitlement.Record, error) {
	if ident.ID == "" {
		return nil, ValidationError{Field: "identity_id", Message: "must not be empty"}
	}

	unlock, err := e.locks.Lock(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	rec, created, err := e.getOrCreateLocked(ctx, ident)
	unlock()
	if err != nil {
		return nil, err
	}

	if created {
		e.logger.Info("entitlement record created",
			"identity_id", rec.IdentityID,
			"tier", rec.TierID,
			"remaining", rec.GenerationsRemaining,
		)
		e.plugins.EmitRecordCreated(ctx, rec.Clone())
	}
	return rec, nil
}

func (e *Engine) getOrCreateLocked(ctx context.Context, ident identity.Identity) (*entitlement.Record, bool, error) {
	rec, err := e.records.Get(ctx, ident.ID)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return nil, false, e.persistenceFault("get record", ident.ID, err)
	}

	zero := e.catalog.Zero()
	rec = &entitlement.Record{
		Entity:               types.NewEntity(),
		IdentityID:           ident.ID,
		TierID:               zero.ID,
		GenerationsRemaining: zero.MonthlyQuota,
		Profile:              ident.Profile,
	}
	if err := e.records.Put(ctx, rec); err != nil {
		return nil, false, e.persistenceFault("create record", ident.ID, err)
	}
	return rec, true, nil
}

// Record returns the stored record for identityID.
func (e *Engine) Record(ctx context.Context, identityID string) (*entitlement.Record, error) {
	rec, err := e.records.Get(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, identityID)
		}
		return nil, e.persistenceFault("get record", identityID, err)
	}
	return rec, nil
}

// TryConsume atomically checks and decrements the identity's remaining
// generations. A denial is a Result value, not an error; errors are
// reserved for unknown identities and persistence faults.
func (e *Engine) TryConsume(ctx context.Context, identityID string) (entitlement.Result, error) {
	unlock, err := e.locks.Lock(ctx, identityID)
	if err != nil {
		return entitlement.Result{}, err
	}
	rec, ok, err := e.records.Decrement(ctx, identityID)
	unlock()

	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return entitlement.Result{}, fmt.Errorf("%w: %s", ErrUnknownIdentity, identityID)
		}
		return entitlement.Result{}, e.persistenceFault("decrement", identityID, err)
	}

	if !ok {
		res := entitlement.Denied(entitlement.ReasonQuotaExhausted)
		res.TierID = rec.TierID
		res.Identity = identityID

		e.logger.Debug("generation denied",
			"identity_id", identityID,
			"tier", rec.TierID,
		)
		e.plugins.EmitQuotaExhausted(ctx, identityID, rec.TierID)
		return res, nil
	}

	res := entitlement.Granted(rec.GenerationsRemaining)
	res.TierID = rec.TierID
	res.Identity = identityID

	e.plugins.EmitGenerationConsumed(ctx, identityID, res)
	return res, nil
}

// TryConsumeAnonymous draws from the guest allowance.
func (e *Engine) TryConsumeAnonymous(ctx context.Context) (entitlement.Result, error) {
	res, err := e.guest.TryConsume(ctx)
	if err != nil {
		e.logger.Error("guest consume failed", "error", err)
		return entitlement.Result{}, err
	}
	res.Guest = true

	if !res.Granted {
		e.logger.Debug("guest generation denied")
	}
	e.plugins.EmitGuestConsumed(ctx, res)
	return res, nil
}

// GuestRemaining reports the unused anonymous allowance.
func (e *Engine) GuestRemaining(ctx context.Context) (int, error) {
	return e.guest.Remaining(ctx)
}

// Refund gives back a generation granted by TryConsume or
// TryConsumeAnonymous when the work it paid for failed. An identity refund
// is skipped if the tier changed since the grant, because reconciliation
// already reset the balance. Refunds never raise the balance above the
// tier's quota.
func (e *Engine) Refund(ctx context.Context, res entitlement.Result) error {
	if !res.Granted {
		return nil
	}
	if res.Guest {
		return e.guest.Refund(ctx)
	}

	unlock, err := e.locks.Lock(ctx, res.Identity)
	if err != nil {
		return err
	}
	rec, refunded, err := e.refundLocked(ctx, res)
	unlock()
	if err != nil {
		return err
	}

	if refunded {
		e.plugins.EmitGenerationRefunded(ctx, rec.IdentityID, rec.GenerationsRemaining)
	}
	return nil
}

func (e *Engine) refundLocked(ctx context.Context, res entitlement.Result) (*entitlement.Record, bool, error) {
	rec, err := e.Record(ctx, res.Identity)
	if err != nil {
		return nil, false, err
	}
	if rec.TierID != res.TierID {
		e.logger.Debug("refund skipped after tier change",
			"identity_id", res.Identity,
			"granted_tier", res.TierID,
			"tier", rec.TierID,
		)
		return rec, false, nil
	}

	t, err := e.catalog.Lookup(rec.TierID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownTier, rec.TierID)
	}
	if rec.GenerationsRemaining >= t.MonthlyQuota {
		return rec, false, nil
	}

	next := rec.Clone()
	next.GenerationsRemaining++
	next.Touch()
	if err := e.records.Put(ctx, next); err != nil {
		return nil, false, e.persistenceFault("refund", res.Identity, err)
	}
	return next, true, nil
}

// ──────────────────────────────────────────────────
// Purchases
// ──────────────────────────────────────────────────

// BeginPurchase records the intent to buy tierID. It never touches the
// entitlement record. The zero tier fails with ErrInvalidTier.
func (e *Engine) BeginPurchase(ctx context.Context, identityID string, tierID tier.ID) (*purchase.Pending, error) {
	t, err := e.catalog.Lookup(tierID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tierID)
	}
	if !t.Purchasable() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tierID)
	}

	unlock, err := e.locks.Lock(ctx, identityID)
	if err != nil {
		return nil, err
	}
	pending, err := e.beginPurchaseLocked(ctx, identityID, t)
	unlock()
	if err != nil {
		return nil, err
	}

	e.logger.Info("purchase started",
		"identity_id", identityID,
		"tier", t.ID,
		"purchase_id", pending.ID.String(),
	)
	e.plugins.EmitPurchaseStarted(ctx, pending)
	return pending, nil
}

func (e *Engine) beginPurchaseLocked(ctx context.Context, identityID string, t tier.Tier) (*purchase.Pending, error) {
	if _, err := e.Record(ctx, identityID); err != nil {
		return nil, err
	}

	pending := &purchase.Pending{
		ID:         id.NewPurchaseID(),
		IdentityID: identityID,
		TierID:     t.ID,
		CreatedAt:  types.Now(),
	}
	if err := e.purchases.Put(ctx, pending); err != nil {
		return nil, e.persistenceFault("put pending purchase", identityID, err)
	}
	return pending, nil
}

// CancelPurchase clears the pending purchase without touching the record.
// A reconcile already in flight is not aborted.
func (e *Engine) CancelPurchase(ctx context.Context, identityID string) error {
	unlock, err := e.locks.Lock(ctx, identityID)
	if err != nil {
		return err
	}
	err = e.purchases.Delete(ctx, identityID)
	unlock()
	if err != nil {
		return e.persistenceFault("delete pending purchase", identityID, err)
	}

	e.plugins.EmitPurchaseCanceled(ctx, identityID)
	return nil
}

// PendingPurchase returns the identity's pending purchase, if any.
func (e *Engine) PendingPurchase(ctx context.Context, identityID string) (*purchase.Pending, error) {
	p, err := e.purchases.Get(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrPendingNotFound) {
			return nil, err
		}
		return nil, e.persistenceFault("get pending purchase", identityID, err)
	}
	return p, nil
}

// ──────────────────────────────────────────────────
// Reconciliation
// ──────────────────────────────────────────────────

// Reconcile applies the tier observed by the oracle. An unchanged tier
// keeps the remaining balance; a changed tier replaces it with the new
// tier's full quota. The pending purchase is cleared either way, including
// when observed is not in the catalog.
func (e *Engine) Reconcile(ctx context.Context, identityID string, observed tier.ID) (*entitlement.Record, error) {
	rec, _, err := e.reconcile(ctx, identityID, observed)
	return rec, err
}

func (e *Engine) reconcile(ctx context.Context, identityID string, observed tier.ID) (*entitlement.Record, bool, error) {
	unlock, err := e.locks.Lock(ctx, identityID)
	if err != nil {
		return nil, false, err
	}
	rec, from, err := e.reconcileLocked(ctx, identityID, observed)
	unlock()
	if err != nil {
		if !IsBusiness(err) {
			e.plugins.EmitReconcileFailed(ctx, identityID, err)
		}
		return nil, false, err
	}

	changed := from != rec.TierID
	if changed {
		e.logger.Info("tier changed",
			"identity_id", identityID,
			"from", from,
			"to", rec.TierID,
			"remaining", rec.GenerationsRemaining,
		)
		e.plugins.EmitTierChanged(ctx, rec.Clone(), from, rec.TierID)
	}
	e.plugins.EmitReconciled(ctx, rec.Clone(), changed)
	return rec, changed, nil
}

// reconcileLocked returns the reconciled record and the tier it had before.
func (e *Engine) reconcileLocked(ctx context.Context, identityID string, observed tier.ID) (*entitlement.Record, tier.ID, error) {
	t, err := e.catalog.Lookup(observed)
	if err != nil {
		if derr := e.purchases.Delete(ctx, identityID); derr != nil {
			return nil, "", e.persistenceFault("delete pending purchase", identityID, derr)
		}
		e.logger.Debug("oracle reported unknown tier",
			"identity_id", identityID,
			"tier", observed,
		)
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownTier, observed)
	}

	rec, err := e.Record(ctx, identityID)
	if err != nil {
		return nil, "", err
	}
	from := rec.TierID

	// Pending is cleared on every outcome. Clearing it before the record
	// write means a failed write leaves the tier untouched and a retry
	// still sees the change.
	if err := e.purchases.Delete(ctx, identityID); err != nil {
		return nil, "", e.persistenceFault("delete pending purchase", identityID, err)
	}

	if rec.TierID != t.ID {
		next := rec.Clone()
		next.TierID = t.ID
		next.GenerationsRemaining = t.MonthlyQuota
		next.Touch()
		if err := e.records.Put(ctx, next); err != nil {
			return nil, "", e.persistenceFault("put record", identityID, err)
		}
		rec = next
	}
	return rec, from, nil
}

// SyncResult is the outcome of an oracle round-trip.
type SyncResult struct {
	Record *entitlement.Record
	// Changed reports whether the tier moved.
	Changed bool
	// Requested is the tier of the pending purchase that was cleared, if any.
	// It is a label for messaging and may differ from Record.TierID.
	Requested tier.ID
}

// Sync asks the oracle for the identity's tier and reconciles. Concurrent
// syncs for one identity share a single oracle call. If the oracle fails
// nothing is changed.
func (e *Engine) Sync(ctx context.Context, identityID string) (SyncResult, error) {
	if e.oracle == nil {
		return SyncResult{}, ErrNoOracle
	}

	// The shared call outlives any single waiter's cancellation.
	v, err, _ := e.syncs.Do(identityID, func() (interface{}, error) {
		return e.sync(context.WithoutCancel(ctx), identityID)
	})
	if err != nil {
		return SyncResult{}, err
	}
	return v.(SyncResult), nil //nolint:forcetypeassert // sync only returns SyncResult
}

func (e *Engine) sync(ctx context.Context, identityID string) (SyncResult, error) {
	rec, err := e.Record(ctx, identityID)
	if err != nil {
		return SyncResult{}, err
	}

	var requested tier.ID
	if p, err := e.purchases.Get(ctx, identityID); err == nil {
		requested = p.TierID
	}

	observed, err := e.oracle.FetchAuthoritativeTier(ctx, rec.Identity())
	if err != nil {
		e.logger.Warn("tier oracle failed",
			"identity_id", identityID,
			"error", err,
		)
		e.plugins.EmitReconcileFailed(ctx, identityID, err)
		return SyncResult{}, fmt.Errorf("allowance: sync %s: %w", identityID, err)
	}

	next, changed, err := e.reconcile(ctx, identityID, observed)
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{Record: next, Changed: changed, Requested: requested}, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// persistenceFault logs a store error and wraps it with ErrStoreUnavailable.
// Context cancellation passes through unchanged.
func (e *Engine) persistenceFault(op, identityID string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e.logger.Error("allowance store failure",
		"op", op,
		"identity_id", identityID,
		"error", err,
	)
	return fmt.Errorf("%w: %s %s: %w", ErrStoreUnavailable, op, identityID, err)
}
