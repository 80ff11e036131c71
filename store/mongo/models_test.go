package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/tier"
	"github.com/xraph/allowance/types"
)

func TestRecordModel_KeyedByIdentity(t *testing.T) {
	rec := &entitlement.Record{
		Entity:               types.NewEntity(),
		IdentityID:           "u1",
		TierID:               tier.Basic,
		GenerationsRemaining: 7,
		Profile:              identity.Profile{Email: "u1@example.com"},
	}

	m := toRecordModel(rec)
	assert.Equal(t, "u1", m.IdentityID)
	assert.Equal(t, rec, fromRecordModel(m))
}

func TestMigrationIndexes_CoverCollections(t *testing.T) {
	idx := migrationIndexes()
	assert.Contains(t, idx, colRecords)
	assert.Contains(t, idx, colPending)
	assert.Contains(t, idx, colSessions)
	assert.Len(t, idx[colPending], 1)
}
