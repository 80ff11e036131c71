package allowance

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrInvalidInput = errors.New("allowance: invalid input")

	// Entitlement errors
	ErrRecordNotFound      = errors.New("allowance: entitlement record not found")
	ErrUnknownIdentity     = errors.New("allowance: unknown identity")
	ErrQuotaExhausted      = errors.New("allowance: generation quota exhausted")
	ErrGuestQuotaExhausted = errors.New("allowance: guest allowance exhausted")

	// Tier errors
	ErrInvalidTier = errors.New("allowance: tier cannot be purchased")
	ErrUnknownTier = errors.New("allowance: tier not in catalog")

	// Session errors
	ErrNotSignedIn = errors.New("allowance: not signed in")

	// Purchase errors
	ErrPendingNotFound = errors.New("allowance: no pending purchase")

	// Collaborator errors
	ErrOracleUnreachable   = errors.New("allowance: tier oracle unreachable")
	ErrMalformedResponse   = errors.New("allowance: malformed backend response")
	ErrCheckoutUnavailable = errors.New("allowance: checkout unavailable")
	ErrNoOracle            = errors.New("allowance: no tier oracle configured")
	ErrNoCheckout          = errors.New("allowance: no checkout configured")

	// Store errors
	ErrStoreUnavailable = errors.New("allowance: store unavailable")
	ErrStoreClosed      = errors.New("allowance: store is closed")
	ErrMigrationFailed  = errors.New("allowance: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("allowance: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrUnknownIdentity) ||
		errors.Is(err, ErrPendingNotFound)
}

// IsQuotaError returns true if the error is a quota denial.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExhausted) ||
		errors.Is(err, ErrGuestQuotaExhausted)
}

// IsBusiness returns true for outcomes the caller is expected to handle
// and surface to the actor rather than treat as faults.
func IsBusiness(err error) bool {
	return IsQuotaError(err) ||
		errors.Is(err, ErrInvalidTier) ||
		errors.Is(err, ErrUnknownTier) ||
		errors.Is(err, ErrNotSignedIn)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOracleUnreachable) ||
		errors.Is(err, ErrCheckoutUnavailable) ||
		errors.Is(err, ErrStoreUnavailable)
}

// IsPersistence returns true if the error came from the store layer.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrStoreClosed) ||
		errors.Is(err, ErrMigrationFailed)
}
