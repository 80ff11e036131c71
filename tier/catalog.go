package tier

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Lookup for IDs outside the catalog.
var ErrNotFound = errors.New("tier: not found")

// Catalog is the single source of quota amounts and price references.
// It is immutable after construction and safe for concurrent use.
type Catalog struct {
	tiers map[ID]Tier
	order []ID
}

// NewCatalog builds a catalog from tiers given in ascending privilege order.
// The first tier is the zero tier: it must have an empty PriceRef.
func NewCatalog(tiers ...Tier) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, errors.New("tier: catalog needs at least one tier")
	}

	c := &Catalog{
		tiers: make(map[ID]Tier, len(tiers)),
		order: make([]ID, 0, len(tiers)),
	}

	for i, t := range tiers {
		if t.ID == "" {
			return nil, fmt.Errorf("tier: tier %d has an empty id", i)
		}
		if _, dup := c.tiers[t.ID]; dup {
			return nil, fmt.Errorf("tier: duplicate tier %q", t.ID)
		}
		if t.MonthlyQuota < 0 {
			return nil, fmt.Errorf("tier: %q has a negative quota", t.ID)
		}
		if i == 0 && t.PriceRef != "" {
			return nil, fmt.Errorf("tier: zero tier %q must not carry a price reference", t.ID)
		}
		if i > 0 && t.PriceRef == "" {
			return nil, fmt.Errorf("tier: %q needs a price reference", t.ID)
		}

		t.Features = append([]string(nil), t.Features...)
		c.tiers[t.ID] = t
		c.order = append(c.order, t.ID)
	}

	return c, nil
}

// MustCatalog is like NewCatalog but panics on error.
func MustCatalog(tiers ...Tier) *Catalog {
	c, err := NewCatalog(tiers...)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the tier with the given ID.
func (c *Catalog) Lookup(id ID) (Tier, error) {
	t, ok := c.tiers[id]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return t, nil
}

// Zero returns the zero-privilege tier every new identity starts on.
func (c *Catalog) Zero() Tier {
	return c.tiers[c.order[0]]
}

// IsZero reports whether id names the zero tier.
func (c *Catalog) IsZero(id ID) bool {
	return id == c.order[0]
}

// GuestAllowance is the zero tier's quota, which unauthenticated sessions share.
func (c *Catalog) GuestAllowance() int {
	return c.Zero().MonthlyQuota
}

// All returns every tier in ascending privilege order.
func (c *Catalog) All() []Tier {
	out := make([]Tier, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tiers[id])
	}
	return out
}

// Purchasable returns the tiers that can be bought, ascending.
func (c *Catalog) Purchasable() []Tier {
	out := make([]Tier, 0, len(c.order))
	for _, id := range c.order[1:] {
		out = append(out, c.tiers[id])
	}
	return out
}

// Rank returns the privilege rank of id (0 for the zero tier) or -1 if unknown.
func (c *Catalog) Rank(id ID) int {
	for i, known := range c.order {
		if known == id {
			return i
		}
	}
	return -1
}

// Compare orders two tiers by privilege: negative if a < b, zero if equal,
// positive if a > b. Unknown IDs rank below the zero tier.
func (c *Catalog) Compare(a, b ID) int {
	return c.Rank(a) - c.Rank(b)
}
