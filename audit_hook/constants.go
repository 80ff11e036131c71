package audithook

// Action constants for audit events.
const (
	// Record actions
	ActionRecordCreated = "record.created"

	// Generation actions
	ActionGenerationConsumed = "generation.consumed"
	ActionGenerationRefunded = "generation.refunded"
	ActionQuotaExhausted     = "quota.exhausted"
	ActionGuestConsumed      = "guest.consumed"
	ActionGuestDenied        = "guest.denied"

	// Purchase actions
	ActionPurchaseStarted  = "purchase.started"
	ActionPurchaseCanceled = "purchase.canceled"

	// Reconciliation actions
	ActionTierChanged     = "tier.changed"
	ActionReconciled      = "reconcile.completed"
	ActionReconcileFailed = "reconcile.failed"

	// Session actions
	ActionSignedOut = "session.signed_out"
)

// Resource constants for audit events.
const (
	ResourceRecord   = "record"
	ResourceGuest    = "guest"
	ResourcePurchase = "purchase"
	ResourceSession  = "session"
)

// Category constants for audit events.
const (
	CategoryUsage       = "usage"
	CategoryAccess      = "access"
	CategoryBilling     = "billing"
	CategoryIntegration = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
