// Package observability provides a metrics extension for allowance that
// records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"
	"errors"
	"sync"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/plugin"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/tier"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnRecordCreated      = (*MetricsExtension)(nil)
	_ plugin.OnGenerationConsumed = (*MetricsExtension)(nil)
	_ plugin.OnGenerationRefunded = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExhausted     = (*MetricsExtension)(nil)
	_ plugin.OnGuestConsumed      = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseStarted    = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseCanceled   = (*MetricsExtension)(nil)
	_ plugin.OnTierChanged        = (*MetricsExtension)(nil)
	_ plugin.OnReconciled         = (*MetricsExtension)(nil)
	_ plugin.OnReconcileFailed    = (*MetricsExtension)(nil)
	_ plugin.OnSignedOut          = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a plugin to automatically track entitlement metrics.
type MetricsExtension struct {
	factory MetricFactory

	mu      sync.RWMutex
	catalog *tier.Catalog

	// Record metrics
	RecordCreated Counter
	SignedOut     Counter

	// Consumption metrics
	GenerationConsumed  Counter
	GenerationRefunded  Counter
	GenerationRemaining Histogram
	QuotaExhausted      Counter
	GuestConsumed       Counter
	GuestDenied         Counter

	// Purchase metrics
	PurchaseStarted  Counter
	PurchaseCanceled Counter

	// Reconciliation metrics
	Reconciled        Counter
	TierUpgraded      Counter
	TierDowngraded    Counter
	ReconcileFailed   Counter
	OracleUnreachable Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Record metrics
		RecordCreated: factory.Counter("allowance.record.created"),
		SignedOut:     factory.Counter("allowance.session.signed_out"),

		// Consumption metrics
		GenerationConsumed:  factory.Counter("allowance.generation.consumed"),
		GenerationRefunded:  factory.Counter("allowance.generation.refunded"),
		GenerationRemaining: factory.Histogram("allowance.generation.remaining"),
		QuotaExhausted:      factory.Counter("allowance.quota.exhausted"),
		GuestConsumed:       factory.Counter("allowance.guest.consumed"),
		GuestDenied:         factory.Counter("allowance.guest.denied"),

		// Purchase metrics
		PurchaseStarted:  factory.Counter("allowance.purchase.started"),
		PurchaseCanceled: factory.Counter("allowance.purchase.canceled"),

		// Reconciliation metrics
		Reconciled:        factory.Counter("allowance.reconcile.total"),
		TierUpgraded:      factory.Counter("allowance.tier.upgraded"),
		TierDowngraded:    factory.Counter("allowance.tier.downgraded"),
		ReconcileFailed:   factory.Counter("allowance.reconcile.failed"),
		OracleUnreachable: factory.Counter("allowance.oracle.unreachable"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit. It picks up the engine's catalog so tier
// changes can be split into upgrades and downgrades.
func (m *MetricsExtension) OnInit(_ context.Context, engine interface{}) error {
	if e, ok := engine.(interface{ Catalog() *tier.Catalog }); ok {
		m.mu.Lock()
		m.catalog = e.Catalog()
		m.mu.Unlock()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnRecordCreated implements plugin.OnRecordCreated.
func (m *MetricsExtension) OnRecordCreated(_ context.Context, _ *entitlement.Record) error {
	m.RecordCreated.Inc()
	return nil
}

// OnGenerationConsumed implements plugin.OnGenerationConsumed.
func (m *MetricsExtension) OnGenerationConsumed(_ context.Context, _ string, res entitlement.Result) error {
	m.GenerationConsumed.Inc()
	m.GenerationRemaining.Observe(float64(res.Remaining))
	return nil
}

// OnGenerationRefunded implements plugin.OnGenerationRefunded.
func (m *MetricsExtension) OnGenerationRefunded(_ context.Context, _ string, _ int) error {
	m.GenerationRefunded.Inc()
	return nil
}

// OnQuotaExhausted implements plugin.OnQuotaExhausted.
func (m *MetricsExtension) OnQuotaExhausted(_ context.Context, _ string, _ tier.ID) error {
	m.QuotaExhausted.Inc()
	return nil
}

// OnGuestConsumed implements plugin.OnGuestConsumed.
func (m *MetricsExtension) OnGuestConsumed(_ context.Context, res entitlement.Result) error {
	if res.Granted {
		m.GuestConsumed.Inc()
	} else {
		m.GuestDenied.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchaseStarted implements plugin.OnPurchaseStarted.
func (m *MetricsExtension) OnPurchaseStarted(_ context.Context, _ *purchase.Pending) error {
	m.PurchaseStarted.Inc()
	return nil
}

// OnPurchaseCanceled implements plugin.OnPurchaseCanceled.
func (m *MetricsExtension) OnPurchaseCanceled(_ context.Context, _ string) error {
	m.PurchaseCanceled.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnTierChanged implements plugin.OnTierChanged.
func (m *MetricsExtension) OnTierChanged(_ context.Context, _ *entitlement.Record, from, to tier.ID) error {
	m.mu.RLock()
	cat := m.catalog
	m.mu.RUnlock()

	if cat == nil {
		cat = tier.DefaultCatalog()
	}
	if cat.Compare(to, from) >= 0 {
		m.TierUpgraded.Inc()
	} else {
		m.TierDowngraded.Inc()
	}
	return nil
}

// OnReconciled implements plugin.OnReconciled.
func (m *MetricsExtension) OnReconciled(_ context.Context, _ *entitlement.Record, _ bool) error {
	m.Reconciled.Inc()
	return nil
}

// OnReconcileFailed implements plugin.OnReconcileFailed.
func (m *MetricsExtension) OnReconcileFailed(_ context.Context, _ string, err error) error {
	m.ReconcileFailed.Inc()
	if errors.Is(err, allowance.ErrOracleUnreachable) {
		m.OracleUnreachable.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSignedOut implements plugin.OnSignedOut.
func (m *MetricsExtension) OnSignedOut(_ context.Context, _ string) error {
	m.SignedOut.Inc()
	return nil
}
