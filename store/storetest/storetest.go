// Package storetest holds a conformance suite every store.Store backend runs.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/id"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/store"
	"github.com/xraph/allowance/tier"
	"github.com/xraph/allowance/types"
)

// Run exercises s against the store.Store contract. s must be empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()

	t.Run("Records", func(t *testing.T) { testRecords(t, s) })
	t.Run("Decrement", func(t *testing.T) { testDecrement(t, s) })
	t.Run("ConcurrentDecrement", func(t *testing.T) { testConcurrentDecrement(t, s) })
	t.Run("Pending", func(t *testing.T) { testPending(t, s) })
	t.Run("Session", func(t *testing.T) { testSession(t, s) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, s.Ping(context.Background())) })
}

func newRecord(identityID string, t tier.ID, remaining int) *entitlement.Record {
	return &entitlement.Record{
		Entity:               types.NewEntity(),
		IdentityID:           identityID,
		TierID:               t,
		GenerationsRemaining: remaining,
		Profile: identity.Profile{
			DisplayName: "Ada",
			Email:       identityID + "@example.com",
			AvatarRef:   "https://example.com/a.png",
		},
	}
}

func testRecords(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetRecord(ctx, "rec-missing")
	require.ErrorIs(t, err, allowance.ErrRecordNotFound)

	rec := newRecord("rec-1", tier.Basic, 50)
	require.NoError(t, s.PutRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, rec.IdentityID, got.IdentityID)
	assert.Equal(t, tier.Basic, got.TierID)
	assert.Equal(t, 50, got.GenerationsRemaining)
	assert.Equal(t, rec.Profile, got.Profile)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	rec.TierID = tier.Plus
	rec.GenerationsRemaining = 200
	require.NoError(t, s.PutRecord(ctx, rec))

	got, err = s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, tier.Plus, got.TierID)
	assert.Equal(t, 200, got.GenerationsRemaining)

	require.NoError(t, s.DeleteRecord(ctx, "rec-1"))
	require.NoError(t, s.DeleteRecord(ctx, "rec-1"))
	_, err = s.GetRecord(ctx, "rec-1")
	require.ErrorIs(t, err, allowance.ErrRecordNotFound)
}

func testDecrement(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, _, err := s.DecrementRecord(ctx, "dec-missing")
	require.ErrorIs(t, err, allowance.ErrRecordNotFound)

	require.NoError(t, s.PutRecord(ctx, newRecord("dec-1", tier.Free, 2)))

	rec, ok, err := s.DecrementRecord(ctx, "dec-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, rec.GenerationsRemaining)

	rec, ok, err = s.DecrementRecord(ctx, "dec-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, rec.GenerationsRemaining)

	rec, ok, err = s.DecrementRecord(ctx, "dec-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, rec.GenerationsRemaining)
	assert.Equal(t, tier.Free, rec.TierID)
}

func testConcurrentDecrement(t *testing.T, s store.Store) {
	ctx := context.Background()
	const quota = 10

	require.NoError(t, s.PutRecord(ctx, newRecord("conc-1", tier.Basic, quota)))

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.DecrementRecord(ctx, "conc-1")
			if err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, quota, granted.Load())
	rec, err := s.GetRecord(ctx, "conc-1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.GenerationsRemaining)
}

func testPending(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetPending(ctx, "pend-1")
	require.ErrorIs(t, err, allowance.ErrPendingNotFound)

	p := &purchase.Pending{
		ID:         id.NewPurchaseID(),
		IdentityID: "pend-1",
		TierID:     tier.Plus,
		CreatedAt:  types.Now(),
	}
	require.NoError(t, s.PutPending(ctx, p))

	got, err := s.GetPending(ctx, "pend-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID.String(), got.ID.String())
	assert.Equal(t, tier.Plus, got.TierID)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))

	p2 := *p
	p2.ID = id.NewPurchaseID()
	p2.TierID = tier.Pro
	require.NoError(t, s.PutPending(ctx, &p2))

	got, err = s.GetPending(ctx, "pend-1")
	require.NoError(t, err)
	assert.Equal(t, tier.Pro, got.TierID)

	require.NoError(t, s.DeletePending(ctx, "pend-1"))
	require.NoError(t, s.DeletePending(ctx, "pend-1"))
	_, err = s.GetPending(ctx, "pend-1")
	require.ErrorIs(t, err, allowance.ErrPendingNotFound)
}

func testSession(t *testing.T, s store.Store) {
	ctx := context.Background()

	cur, err := s.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, cur)

	require.NoError(t, s.SetCurrentSession(ctx, "sess-1"))
	cur, err = s.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", cur)

	require.NoError(t, s.ClearCurrentSession(ctx))
	cur, err = s.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, cur)
}
