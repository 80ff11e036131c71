// Package plugin provides an extensible plugin system for allowance.
// Plugins can hook into entitlement lifecycle events to extend functionality.
package plugin

import (
	"context"

	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/tier"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnRecordCreated is called when an identity is seen for the first time.
type OnRecordCreated interface {
	Plugin
	OnRecordCreated(ctx context.Context, rec *entitlement.Record) error
}

// OnGenerationConsumed is called after a generation is granted to an identity.
type OnGenerationConsumed interface {
	Plugin
	OnGenerationConsumed(ctx context.Context, identityID string, result entitlement.Result) error
}

// OnGenerationRefunded is called when a granted generation is given back.
type OnGenerationRefunded interface {
	Plugin
	OnGenerationRefunded(ctx context.Context, identityID string, remaining int) error
}

// OnQuotaExhausted is called when a consumption is denied.
type OnQuotaExhausted interface {
	Plugin
	OnQuotaExhausted(ctx context.Context, identityID string, tierID tier.ID) error
}

// OnGuestConsumed is called for every anonymous consumption attempt.
type OnGuestConsumed interface {
	Plugin
	OnGuestConsumed(ctx context.Context, result entitlement.Result) error
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnPurchaseStarted is called when a pending purchase is recorded.
type OnPurchaseStarted interface {
	Plugin
	OnPurchaseStarted(ctx context.Context, p *purchase.Pending) error
}

// OnPurchaseCanceled is called when a pending purchase is abandoned.
type OnPurchaseCanceled interface {
	Plugin
	OnPurchaseCanceled(ctx context.Context, identityID string) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnTierChanged is called when reconciliation moves an identity to a new tier.
type OnTierChanged interface {
	Plugin
	OnTierChanged(ctx context.Context, rec *entitlement.Record, from, to tier.ID) error
}

// OnReconciled is called after every successful reconciliation.
type OnReconciled interface {
	Plugin
	OnReconciled(ctx context.Context, rec *entitlement.Record, changed bool) error
}

// OnReconcileFailed is called when fetching or applying the authoritative tier fails.
type OnReconcileFailed interface {
	Plugin
	OnReconcileFailed(ctx context.Context, identityID string, err error) error
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSignedOut is called after an identity signs out.
type OnSignedOut interface {
	Plugin
	OnSignedOut(ctx context.Context, identityID string) error
}
