package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/tier"
)

// DefaultTimeout bounds a single plugin call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emitting an event never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onRecordCreated      []OnRecordCreated
	onGenerationConsumed []OnGenerationConsumed
	onGenerationRefunded []OnGenerationRefunded
	onQuotaExhausted     []OnQuotaExhausted
	onGuestConsumed      []OnGuestConsumed
	onPurchaseStarted    []OnPurchaseStarted
	onPurchaseCanceled   []OnPurchaseCanceled
	onTierChanged        []OnTierChanged
	onReconciled         []OnReconciled
	onReconcileFailed    []OnReconcileFailed
	onSignedOut          []OnSignedOut
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call plugin timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnRecordCreated); ok {
		r.onRecordCreated = append(r.onRecordCreated, v)
	}
	if v, ok := p.(OnGenerationConsumed); ok {
		r.onGenerationConsumed = append(r.onGenerationConsumed, v)
	}
	if v, ok := p.(OnGenerationRefunded); ok {
		r.onGenerationRefunded = append(r.onGenerationRefunded, v)
	}
	if v, ok := p.(OnQuotaExhausted); ok {
		r.onQuotaExhausted = append(r.onQuotaExhausted, v)
	}
	if v, ok := p.(OnGuestConsumed); ok {
		r.onGuestConsumed = append(r.onGuestConsumed, v)
	}
	if v, ok := p.(OnPurchaseStarted); ok {
		r.onPurchaseStarted = append(r.onPurchaseStarted, v)
	}
	if v, ok := p.(OnPurchaseCanceled); ok {
		r.onPurchaseCanceled = append(r.onPurchaseCanceled, v)
	}
	if v, ok := p.(OnTierChanged); ok {
		r.onTierChanged = append(r.onTierChanged, v)
	}
	if v, ok := p.(OnReconciled); ok {
		r.onReconciled = append(r.onReconciled, v)
	}
	if v, ok := p.(OnReconcileFailed); ok {
		r.onReconcileFailed = append(r.onReconcileFailed, v)
	}
	if v, ok := p.(OnSignedOut); ok {
		r.onSignedOut = append(r.onSignedOut, v)
	}

	r.logger.Debug("plugin registered",
		"plugin", p.Name(),
		"hooks", r.implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnRecordCreated", reflect.TypeOf((*OnRecordCreated)(nil)).Elem()},
	{"OnGenerationConsumed", reflect.TypeOf((*OnGenerationConsumed)(nil)).Elem()},
	{"OnGenerationRefunded", reflect.TypeOf((*OnGenerationRefunded)(nil)).Elem()},
	{"OnQuotaExhausted", reflect.TypeOf((*OnQuotaExhausted)(nil)).Elem()},
	{"OnGuestConsumed", reflect.TypeOf((*OnGuestConsumed)(nil)).Elem()},
	{"OnPurchaseStarted", reflect.TypeOf((*OnPurchaseStarted)(nil)).Elem()},
	{"OnPurchaseCanceled", reflect.TypeOf((*OnPurchaseCanceled)(nil)).Elem()},
	{"OnTierChanged", reflect.TypeOf((*OnTierChanged)(nil)).Elem()},
	{"OnReconciled", reflect.TypeOf((*OnReconciled)(nil)).Elem()},
	{"OnReconcileFailed", reflect.TypeOf((*OnReconcileFailed)(nil)).Elem()},
	{"OnSignedOut", reflect.TypeOf((*OnSignedOut)(nil)).Elem()},
}

// implementedInterfaces returns the hook names implemented by the plugin.
func (r *Registry) implementedInterfaces(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRecordCreated calls OnRecordCreated for all plugins that implement it.
func (r *Registry) EmitRecordCreated(ctx context.Context, rec *entitlement.Record) {
	r.mu.RLock()
	plugins := r.onRecordCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRecordCreated(ctx, rec)
		}); err != nil {
			r.logger.Warn("plugin OnRecordCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitGenerationConsumed calls OnGenerationConsumed for all plugins that implement it.
func (r *Registry) EmitGenerationConsumed(ctx context.Context, identityID string, result entitlement.Result) {
	r.mu.RLock()
	plugins := r.onGenerationConsumed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnGenerationConsumed(ctx, identityID, result)
		}); err != nil {
			r.logger.Warn("plugin OnGenerationConsumed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitGenerationRefunded calls OnGenerationRefunded for all plugins that implement it.
func (r *Registry) EmitGenerationRefunded(ctx context.Context, identityID string, remaining int) {
	r.mu.RLock()
	plugins := r.onGenerationRefunded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnGenerationRefunded(ctx, identityID, remaining)
		}); err != nil {
			r.logger.Warn("plugin OnGenerationRefunded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitQuotaExhausted calls OnQuotaExhausted for all plugins that implement it.
func (r *Registry) EmitQuotaExhausted(ctx context.Context, identityID string, tierID tier.ID) {
	r.mu.RLock()
	plugins := r.onQuotaExhausted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnQuotaExhausted(ctx, identityID, tierID)
		}); err != nil {
			r.logger.Warn("plugin OnQuotaExhausted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitGuestConsumed calls OnGuestConsumed for all plugins that implement it.
func (r *Registry) EmitGuestConsumed(ctx context.Context, result entitlement.Result) {
	r.mu.RLock()
	plugins := r.onGuestConsumed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnGuestConsumed(ctx, result)
		}); err != nil {
			r.logger.Warn("plugin OnGuestConsumed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPurchaseStarted calls OnPurchaseStarted for all plugins that implement it.
func (r *Registry) EmitPurchaseStarted(ctx context.Context, pending *purchase.Pending) {
	r.mu.RLock()
	plugins := r.onPurchaseStarted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPurchaseStarted(ctx, pending)
		}); err != nil {
			r.logger.Warn("plugin OnPurchaseStarted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPurchaseCanceled calls OnPurchaseCanceled for all plugins that implement it.
func (r *Registry) EmitPurchaseCanceled(ctx context.Context, identityID string) {
	r.mu.RLock()
	plugins := r.onPurchaseCanceled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPurchaseCanceled(ctx, identityID)
		}); err != nil {
			r.logger.Warn("plugin OnPurchaseCanceled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTierChanged calls OnTierChanged for all plugins that implement it.
func (r *Registry) EmitTierChanged(ctx context.Context, rec *entitlement.Record, from, to tier.ID) {
	r.mu.RLock()
	plugins := r.onTierChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTierChanged(ctx, rec, from, to)
		}); err != nil {
			r.logger.Warn("plugin OnTierChanged failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReconciled calls OnReconciled for all plugins that implement it.
func (r *Registry) EmitReconciled(ctx context.Context, rec *entitlement.Record, changed bool) {
	r.mu.RLock()
	plugins := r.onReconciled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReconciled(ctx, rec, changed)
		}); err != nil {
			r.logger.Warn("plugin OnReconciled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReconcileFailed calls OnReconcileFailed for all plugins that implement it.
func (r *Registry) EmitReconcileFailed(ctx context.Context, identityID string, cause error) {
	r.mu.RLock()
	plugins := r.onReconcileFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReconcileFailed(ctx, identityID, cause)
		}); err != nil {
			r.logger.Warn("plugin OnReconcileFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSignedOut calls OnSignedOut for all plugins that implement it.
func (r *Registry) EmitSignedOut(ctx context.Context, identityID string) {
	r.mu.RLock()
	plugins := r.onSignedOut
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSignedOut(ctx, identityID)
		}); err != nil {
			r.logger.Warn("plugin OnSignedOut failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the entitlement pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
