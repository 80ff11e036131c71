// Package entitlement holds the per-identity entitlement record and the
// result of a consumption attempt.
package entitlement

import (
	"github.com/xraph/allowance/id"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/tier"
	"github.com/xraph/allowance/types"
)

// Record is the mutable entitlement aggregate for one identity.
// GenerationsRemaining is never negative.
type Record struct {
	types.Entity
	IdentityID           string           `json:"identity_id"`
	TierID               tier.ID          `json:"tier_id"`
	GenerationsRemaining int              `json:"generations_remaining"`
	Profile              identity.Profile `json:"profile"`
}

// Clone returns a copy that shares no state with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// Identity returns the identity the record belongs to.
func (r *Record) Identity() identity.Identity {
	return identity.Identity{ID: r.IdentityID, Profile: r.Profile}
}

// Reason explains why a consumption was denied.
type Reason string

const (
	// ReasonQuotaExhausted means a signed-in identity has no generations left.
	ReasonQuotaExhausted Reason = "quota_exhausted"
	// ReasonGuestQuotaExhausted means the anonymous allowance is used up.
	ReasonGuestQuotaExhausted Reason = "guest_quota_exhausted"
)

// Result is the outcome of a consumption attempt. Denials are values, not errors.
type Result struct {
	Granted   bool    `json:"granted"`
	Reason    Reason  `json:"reason,omitempty"`
	Remaining int     `json:"remaining"`
	TierID    tier.ID `json:"tier_id,omitempty"`
	Receipt   id.ID   `json:"receipt"`
	Guest     bool    `json:"guest,omitempty"`
	Identity  string  `json:"identity_id,omitempty"`
}

// Granted builds a granted result with a fresh receipt.
func Granted(remaining int) Result {
	return Result{Granted: true, Remaining: remaining, Receipt: id.NewReceiptID()}
}

// Denied builds a denied result.
func Denied(reason Reason) Result {
	return Result{Reason: reason}
}
