package plugin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/plugin"
	"github.com/xraph/allowance/tier"
)

type recorder struct {
	name string

	mu       sync.Mutex
	consumed []string
	changes  [][2]tier.ID
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnGenerationConsumed(_ context.Context, identityID string, _ entitlement.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumed = append(r.consumed, identityID)
	return nil
}

func (r *recorder) OnTierChanged(_ context.Context, _ *entitlement.Record, from, to tier.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, [2]tier.ID{from, to})
	return nil
}

type failing struct{}

func (failing) Name() string { return "failing" }

func (failing) OnSignedOut(context.Context, string) error { return errors.New("boom") }

type slow struct{}

func (slow) Name() string { return "slow" }

func (slow) OnShutdown(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestRegistry_Register(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(&recorder{name: "a"}))
	require.NoError(t, r.Register(failing{}))

	err := r.Register(&recorder{name: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	assert.Equal(t, 2, r.Count())
	assert.NotNil(t, r.Get("failing"))
	assert.Nil(t, r.Get("missing"))
	assert.Len(t, r.List(), 2)
}

func TestRegistry_DispatchOnlyToImplementers(t *testing.T) {
	r := plugin.NewRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, r.Register(rec))
	require.NoError(t, r.Register(failing{}))

	ctx := context.Background()
	r.EmitGenerationConsumed(ctx, "u1", entitlement.Granted(4))
	r.EmitTierChanged(ctx, &entitlement.Record{IdentityID: "u1"}, tier.Basic, tier.Plus)
	r.EmitSignedOut(ctx, "u1") // failing plugin error is logged, not returned

	assert.Equal(t, []string{"u1"}, rec.consumed)
	assert.Equal(t, [][2]tier.ID{{tier.Basic, tier.Plus}}, rec.changes)
}

func TestRegistry_Timeout(t *testing.T) {
	r := plugin.NewRegistry().WithTimeout(20 * time.Millisecond)
	require.NoError(t, r.Register(slow{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	r.EmitShutdown(ctx)
	assert.Less(t, time.Since(start), time.Second)
}
