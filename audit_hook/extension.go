// Package audithook bridges allowance lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// any audit backend directly. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/plugin"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/tier"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnRecordCreated      = (*Extension)(nil)
	_ plugin.OnGenerationConsumed = (*Extension)(nil)
	_ plugin.OnGenerationRefunded = (*Extension)(nil)
	_ plugin.OnQuotaExhausted     = (*Extension)(nil)
	_ plugin.OnGuestConsumed      = (*Extension)(nil)
	_ plugin.OnPurchaseStarted    = (*Extension)(nil)
	_ plugin.OnPurchaseCanceled   = (*Extension)(nil)
	_ plugin.OnTierChanged        = (*Extension)(nil)
	_ plugin.OnReconciled         = (*Extension)(nil)
	_ plugin.OnReconcileFailed    = (*Extension)(nil)
	_ plugin.OnSignedOut          = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges allowance lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Entitlement lifecycle hooks
// ──────────────────────────────────────────────────

// OnRecordCreated implements plugin.OnRecordCreated.
func (e *Extension) OnRecordCreated(ctx context.Context, rec *entitlement.Record) error {
	return e.record(ctx, ActionRecordCreated, SeverityInfo, OutcomeSuccess,
		ResourceRecord, rec.IdentityID, CategoryAccess, nil,
		"tier", rec.TierID.String(),
		"remaining", rec.GenerationsRemaining,
	)
}

// OnGenerationConsumed implements plugin.OnGenerationConsumed.
func (e *Extension) OnGenerationConsumed(ctx context.Context, identityID string, res entitlement.Result) error {
	return e.record(ctx, ActionGenerationConsumed, SeverityInfo, OutcomeSuccess,
		ResourceRecord, identityID, CategoryUsage, nil,
		"receipt", res.Receipt.String(),
		"tier", res.TierID.String(),
		"remaining", res.Remaining,
	)
}

// OnGenerationRefunded implements plugin.OnGenerationRefunded.
func (e *Extension) OnGenerationRefunded(ctx context.Context, identityID string, remaining int) error {
	return e.record(ctx, ActionGenerationRefunded, SeverityInfo, OutcomeSuccess,
		ResourceRecord, identityID, CategoryUsage, nil,
		"remaining", remaining,
	)
}

// OnQuotaExhausted implements plugin.OnQuotaExhausted.
func (e *Extension) OnQuotaExhausted(ctx context.Context, identityID string, tierID tier.ID) error {
	return e.record(ctx, ActionQuotaExhausted, SeverityWarning, OutcomeFailure,
		ResourceRecord, identityID, CategoryAccess, nil,
		"tier", tierID.String(),
	)
}

// OnGuestConsumed implements plugin.OnGuestConsumed. Grants and denials are
// recorded under separate actions so either can be filtered out.
func (e *Extension) OnGuestConsumed(ctx context.Context, res entitlement.Result) error {
	if !res.Granted {
		return e.record(ctx, ActionGuestDenied, SeverityWarning, OutcomeFailure,
			ResourceGuest, "", CategoryAccess, nil,
			"reason", string(res.Reason),
		)
	}
	return e.record(ctx, ActionGuestConsumed, SeverityInfo, OutcomeSuccess,
		ResourceGuest, "", CategoryUsage, nil,
		"remaining", res.Remaining,
	)
}

// ──────────────────────────────────────────────────
// Purchase lifecycle hooks
// ──────────────────────────────────────────────────

// OnPurchaseStarted implements plugin.OnPurchaseStarted.
func (e *Extension) OnPurchaseStarted(ctx context.Context, p *purchase.Pending) error {
	return e.record(ctx, ActionPurchaseStarted, SeverityInfo, OutcomeSuccess,
		ResourcePurchase, p.ID.String(), CategoryBilling, nil,
		"identity_id", p.IdentityID,
		"tier", p.TierID.String(),
	)
}

// OnPurchaseCanceled implements plugin.OnPurchaseCanceled.
func (e *Extension) OnPurchaseCanceled(ctx context.Context, identityID string) error {
	return e.record(ctx, ActionPurchaseCanceled, SeverityInfo, OutcomeSuccess,
		ResourcePurchase, "", CategoryBilling, nil,
		"identity_id", identityID,
	)
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnTierChanged implements plugin.OnTierChanged.
func (e *Extension) OnTierChanged(ctx context.Context, rec *entitlement.Record, from, to tier.ID) error {
	return e.record(ctx, ActionTierChanged, SeverityInfo, OutcomeSuccess,
		ResourceRecord, rec.IdentityID, CategoryBilling, nil,
		"from", from.String(),
		"to", to.String(),
		"remaining", rec.GenerationsRemaining,
	)
}

// OnReconciled implements plugin.OnReconciled. Only reconciliations that
// changed the tier carry audit value; the rest are dropped here.
func (e *Extension) OnReconciled(ctx context.Context, rec *entitlement.Record, changed bool) error {
	if !changed {
		return nil
	}
	return e.record(ctx, ActionReconciled, SeverityInfo, OutcomeSuccess,
		ResourceRecord, rec.IdentityID, CategoryIntegration, nil,
		"tier", rec.TierID.String(),
	)
}

// OnReconcileFailed implements plugin.OnReconcileFailed.
func (e *Extension) OnReconcileFailed(ctx context.Context, identityID string, err error) error {
	return e.record(ctx, ActionReconcileFailed, SeverityError, OutcomeFailure,
		ResourceRecord, identityID, CategoryIntegration, err,
	)
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSignedOut implements plugin.OnSignedOut.
func (e *Extension) OnSignedOut(ctx context.Context, identityID string) error {
	return e.record(ctx, ActionSignedOut, SeverityInfo, OutcomeSuccess,
		ResourceSession, identityID, CategoryAccess, nil,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
