// Package purchase models the transient intent to buy a tier and the signal
// that arrives when the actor returns from the external checkout.
package purchase

import (
	"net/url"
	"time"

	"github.com/xraph/allowance/id"
	"github.com/xraph/allowance/tier"
)

// Pending records what an identity tried to buy. It is a hint for messaging
// only; the oracle's answer is what reconciliation applies.
type Pending struct {
	ID         id.PurchaseID `json:"id"`
	IdentityID string        `json:"identity_id"`
	TierID     tier.ID       `json:"tier_id"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SessionKind distinguishes checkout sessions from billing-portal sessions.
type SessionKind string

const (
	SessionCheckout SessionKind = "checkout"
	SessionPortal   SessionKind = "portal"
)

// SessionHandle is an opaque hand-off to the external payment processor.
type SessionHandle struct {
	Kind  SessionKind `json:"kind"`
	Value string      `json:"value"`
}

// Outcome is how the actor came back from checkout.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeSuccess  Outcome = "success"
	OutcomeCanceled Outcome = "canceled"
)

// Query parameters appended to the checkout redirect URLs.
const (
	QuerySuccess  = "checkout_success"
	QueryCanceled = "checkout_canceled"
)

// ReturnSignal is delivered out-of-band when the actor resumes after checkout.
type ReturnSignal struct {
	Outcome Outcome `json:"outcome"`
}

// ParseReturnSignal reads the checkout flags from redirect query values.
// A success flag wins if both are present.
func ParseReturnSignal(q url.Values) ReturnSignal {
	switch {
	case q.Get(QuerySuccess) != "":
		return ReturnSignal{Outcome: OutcomeSuccess}
	case q.Get(QueryCanceled) != "":
		return ReturnSignal{Outcome: OutcomeCanceled}
	default:
		return ReturnSignal{}
	}
}

// WithOutcome appends the flag for outcome to base and returns the new URL.
func WithOutcome(base string, outcome Outcome) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	switch outcome {
	case OutcomeSuccess:
		q.Set(QuerySuccess, "true")
	case OutcomeCanceled:
		q.Set(QueryCanceled, "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
