package allowance

import (
	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/tier"
	"github.com/xraph/allowance/types"
)

// Re-export common types for convenience so users don't have to import every package.

// Record is re-exported from the entitlement package.
type Record = entitlement.Record

// Result is re-exported from the entitlement package.
type Result = entitlement.Result

// Identity is re-exported from the identity package.
type Identity = identity.Identity

// Tier is re-exported from the tier package.
type Tier = tier.Tier

// TierID is re-exported from the tier package.
type TierID = tier.ID

// Pending is re-exported from the purchase package.
type Pending = purchase.Pending

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export tier identifiers
const (
	Free  = tier.Free
	Basic = tier.Basic
	Plus  = tier.Plus
	Pro   = tier.Pro
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
