package oracle_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/oracle"
	"github.com/xraph/allowance/store/memory"
	"github.com/xraph/allowance/tier"
)

var ada = identity.Identity{
	ID:      "google-123",
	Profile: identity.Profile{DisplayName: "Ada", Email: "ada@example.com"},
}

func newClient(t *testing.T, h http.HandlerFunc) *oracle.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := oracle.New(oracle.Config{URL: srv.URL}, srv.Client())
	require.NoError(t, err)
	return c
}

func TestFetchAuthoritativeTier(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "ada@example.com", in["userEmail"])
		_, _ = w.Write([]byte(`{"tierId":"plus"}`))
	})

	got, err := c.FetchAuthoritativeTier(context.Background(), ada)
	require.NoError(t, err)
	assert.Equal(t, tier.Plus, got)
}

func TestFetchAuthoritativeTier_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusInternalServerError, `{"error":"stripe down"}`, allowance.ErrOracleUnreachable},
		{"not found", http.StatusNotFound, "", allowance.ErrOracleUnreachable},
		{"not json", http.StatusOK, "<html>", allowance.ErrMalformedResponse},
		{"missing tierId", http.StatusOK, `{}`, allowance.ErrMalformedResponse},
		{"numeric tierId", http.StatusOK, `{"tierId":3}`, allowance.ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.FetchAuthoritativeTier(context.Background(), ada)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, allowance.IsRetryable(err) == (tt.want == allowance.ErrOracleUnreachable))
		})
	}
}

func TestFetchAuthoritativeTier_ErrorMessageSurfaced(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"No such customer"}`))
	})

	_, err := c.FetchAuthoritativeTier(context.Background(), ada)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such customer")
}

func TestFetchAuthoritativeTier_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := oracle.New(oracle.Config{URL: url}, nil)
	require.NoError(t, err)

	_, err = c.FetchAuthoritativeTier(context.Background(), ada)
	require.ErrorIs(t, err, allowance.ErrOracleUnreachable)
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := oracle.New(oracle.Config{}, nil)
	require.ErrorIs(t, err, allowance.ErrInvalidInput)
}

func TestFetchAuthoritativeTier_NoContactAddress(t *testing.T) {
	var hits atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"tierId":"plus"}`))
	})

	_, err := c.FetchAuthoritativeTier(context.Background(), identity.Identity{ID: "anon-42"})
	require.ErrorIs(t, err, allowance.ErrInvalidInput)
	assert.False(t, allowance.IsRetryable(err))
	assert.Zero(t, hits.Load())
}

func TestSync_NoContactAddressLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"tierId":"plus"}`))
	})

	s := memory.New()
	e := allowance.New(s, allowance.WithOracle(c))
	require.NoError(t, s.PutRecord(ctx, &entitlement.Record{
		Entity:               allowance.NewEntity(),
		IdentityID:           "anon-42",
		TierID:               tier.Basic,
		GenerationsRemaining: 3,
		Profile:              identity.Profile{DisplayName: "No Mail"},
	}))
	pending, err := e.BeginPurchase(ctx, "anon-42", tier.Plus)
	require.NoError(t, err)

	_, err = e.Sync(ctx, "anon-42")
	require.ErrorIs(t, err, allowance.ErrInvalidInput)
	assert.Zero(t, hits.Load())

	rec, err := e.Record(ctx, "anon-42")
	require.NoError(t, err)
	assert.Equal(t, tier.Basic, rec.TierID)
	assert.Equal(t, 3, rec.GenerationsRemaining)

	got, err := e.PendingPurchase(ctx, "anon-42")
	require.NoError(t, err)
	assert.Equal(t, pending.ID.String(), got.ID.String())
}
