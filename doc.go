// Package allowance meters image generations against an externally billed
// subscription tier.
//
// allowance is designed as a library, not a service. It keeps one
// entitlement record per identity (tier plus generations remaining), a
// bounded anonymous allowance for visitors who have not signed in, and a
// transient pending purchase while the actor is away at checkout. It
// provides:
//
//   - Atomic check-and-decrement of remaining generations, serialized per identity
//   - Reconciliation against an authoritative tier oracle
//   - Checkout and billing-portal hand-off with return-signal handling
//   - Pluggable stores: memory, Redis, SQLite, PostgreSQL, MongoDB
//   - Lifecycle hooks for metrics and audit
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/allowance"
//	    "github.com/xraph/allowance/store/memory"
//	)
//
//	e := allowance.New(memory.New(),
//	    allowance.WithOracle(oracleClient),
//	    allowance.WithCheckout(checkoutClient),
//	)
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Core Concepts
//
// A Tier is an immutable catalog entry; the Engine never hard-codes a quota:
//
//	t, err := e.Catalog().Lookup(allowance.Plus)
//
// Signing in creates the record on the zero tier the first time:
//
//	rec, err := e.SignIn(ctx, ident)
//
// Consuming is a value, not an error, when the quota is spent:
//
//	res, err := e.TryConsume(ctx, rec.IdentityID)
//	if err != nil {
//	    // persistence fault; nothing was granted
//	}
//	if !res.Granted {
//	    // res.Reason == entitlement.ReasonQuotaExhausted
//	}
//
// Purchases never change the record directly. Only the oracle's answer,
// applied by Reconcile, does:
//
//	h, err := e.Upgrade(ctx, rec.IdentityID, allowance.Plus)
//	// ... actor returns from checkout ...
//	res, err := e.HandleReturn(ctx, purchase.ParseReturnSignal(r.URL.Query()))
//
// A changed tier resets the balance to the new tier's quota. An unchanged
// tier leaves it alone, so a sync never restores spent generations.
//
// # TypeID
//
// Engine-issued identifiers use TypeID:
//
//	pur_01h2xcejqtf2nbrexx3vqjhp41   // pending purchase
//	gen_01h455vb4pex5vsknk084sn02q   // consumption receipt
package allowance
