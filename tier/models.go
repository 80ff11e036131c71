// Package tier defines the closed set of subscription tiers and the catalog
// that owns their quota amounts and price references.
package tier

// ID identifies a tier. IDs form a closed set ordered by ascending privilege.
type ID string

// Built-in tier identifiers, lowest privilege first.
const (
	Free  ID = "free"
	Basic ID = "basic"
	Plus  ID = "plus"
	Pro   ID = "pro"
)

// GuestAllowance is the number of generations an unauthenticated session may
// consume. The zero tier's monthly quota always equals this value.
const GuestAllowance = 5

// Tier is an immutable subscription level.
type Tier struct {
	ID           ID       `json:"id"            yaml:"id"`
	Name         string   `json:"name"          yaml:"name"`
	MonthlyQuota int      `json:"monthly_quota" yaml:"monthly_quota"`
	PriceRef     string   `json:"price_ref"     yaml:"price_ref"`
	PriceCents   int64    `json:"price_cents"   yaml:"price_cents"`
	Features     []string `json:"features,omitempty" yaml:"features,omitempty"`
}

// Purchasable reports whether the tier can be bought through checkout.
func (t Tier) Purchasable() bool {
	return t.PriceRef != ""
}

// String returns the tier ID.
func (id ID) String() string { return string(id) }
