package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/id"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/tier"
	"github.com/xraph/allowance/types"
)

func TestRecordModel_FlattensProfile(t *testing.T) {
	rec := &entitlement.Record{
		Entity:               types.NewEntity(),
		IdentityID:           "u1",
		TierID:               tier.Plus,
		GenerationsRemaining: 120,
		Profile:              identity.Profile{DisplayName: "Ada", Email: "ada@example.com", AvatarRef: "a.png"},
	}

	m := toRecordModel(rec)
	assert.Equal(t, "plus", m.TierID)
	assert.Equal(t, "ada@example.com", m.Email)
	assert.Equal(t, rec, fromRecordModel(m))
}

func TestPendingModel_RejectsForeignID(t *testing.T) {
	p := &purchase.Pending{ID: id.NewPurchaseID(), IdentityID: "u1", TierID: tier.Basic, CreatedAt: types.Now()}

	got, err := fromPendingModel(toPendingModel(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)

	m := toPendingModel(p)
	m.ID = id.NewReceiptID().String()
	_, err = fromPendingModel(m)
	assert.Error(t, err)
}
