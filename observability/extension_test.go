package observability_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/observability"
	"github.com/xraph/allowance/store/memory"
	"github.com/xraph/allowance/tier"
)

type counter struct {
	mu sync.Mutex
	n  float64
}

func (c *counter) Inc()          { c.Add(1) }
func (c *counter) Add(v float64) { c.mu.Lock(); c.n += v; c.mu.Unlock() }
func (c *counter) value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type histogram struct {
	mu  sync.Mutex
	obs []float64
}

func (h *histogram) Observe(v float64) { h.mu.Lock(); h.obs = append(h.obs, v); h.mu.Unlock() }

type fakeFactory struct {
	counters   map[string]*counter
	histograms map[string]*histogram
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{counters: map[string]*counter{}, histograms: map[string]*histogram{}}
}

func (f *fakeFactory) Counter(name string) observability.Counter {
	c := &counter{}
	f.counters[name] = c
	return c
}

func (f *fakeFactory) Histogram(name string) observability.Histogram {
	h := &histogram{}
	f.histograms[name] = h
	return h
}

func TestMetricsExtension_EngineEvents(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)

	eng := allowance.New(memory.New(), allowance.WithPlugin(m))
	require.NoError(t, eng.Start(ctx))

	_, err := eng.GetOrCreate(ctx, allowance.Identity{ID: "u1", Profile: identity.Profile{Email: "u1@example.com"}})
	require.NoError(t, err)

	for range 6 {
		_, err = eng.TryConsume(ctx, "u1")
		require.NoError(t, err)
	}
	for range 6 {
		_, err = eng.TryConsumeAnonymous(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, 1.0, f.counters["allowance.record.created"].value())
	assert.Equal(t, 5.0, f.counters["allowance.generation.consumed"].value())
	assert.Equal(t, 1.0, f.counters["allowance.quota.exhausted"].value())
	assert.Equal(t, 5.0, f.counters["allowance.guest.consumed"].value())
	assert.Equal(t, 1.0, f.counters["allowance.guest.denied"].value())
	assert.Equal(t, []float64{4, 3, 2, 1, 0}, f.histograms["allowance.generation.remaining"].obs)
}

func TestMetricsExtension_TierDirection(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)

	require.NoError(t, m.OnTierChanged(ctx, &entitlement.Record{}, tier.Free, tier.Plus))
	require.NoError(t, m.OnTierChanged(ctx, &entitlement.Record{}, tier.Pro, tier.Basic))
	require.NoError(t, m.OnTierChanged(ctx, &entitlement.Record{}, tier.Basic, tier.Pro))

	assert.Equal(t, 2.0, f.counters["allowance.tier.upgraded"].value())
	assert.Equal(t, 1.0, f.counters["allowance.tier.downgraded"].value())
}

func TestMetricsExtension_ReconcileFailed(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)

	require.NoError(t, m.OnReconcileFailed(ctx, "u1", fmt.Errorf("wrap: %w", allowance.ErrOracleUnreachable)))
	require.NoError(t, m.OnReconcileFailed(ctx, "u1", allowance.ErrMalformedResponse))

	assert.Equal(t, 2.0, f.counters["allowance.reconcile.failed"].value())
	assert.Equal(t, 1.0, f.counters["allowance.oracle.unreachable"].value())
}

func TestPrometheusFactory(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	c := f.Counter("allowance.purchase.started")
	c.Inc()
	c.Add(2)
	assert.Same(t, c, f.Counter("allowance.purchase.started"))

	pc, ok := c.(prometheus.Counter)
	require.True(t, ok)
	assert.Equal(t, 3.0, testutil.ToFloat64(pc))

	// A second factory on the same registry shares collectors.
	other := observability.NewPrometheusFactory(reg)
	other.Counter("allowance.purchase.started").Inc()
	assert.Equal(t, 4.0, testutil.ToFloat64(pc))

	f.Histogram("allowance.generation.remaining").Observe(3)
	n, err := testutil.GatherAndCount(reg, "allowance_purchase_started_total", "allowance_generation_remaining")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
