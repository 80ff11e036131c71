package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/allowance"
	audithook "github.com/xraph/allowance/audit_hook"
	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/store/memory"
	"github.com/xraph/allowance/tier"
)

type sink struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (s *sink) Record(_ context.Context, evt *audithook.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *sink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}

func TestExtension_RecordsEngineLifecycle(t *testing.T) {
	ctx := context.Background()
	s := &sink{}

	eng := allowance.New(memory.New(), allowance.WithPlugin(audithook.New(s)))

	_, err := eng.SignIn(ctx, identity.Identity{ID: "u1", Profile: identity.Profile{Email: "u1@example.com"}})
	require.NoError(t, err)
	_, err = eng.TryConsume(ctx, "u1")
	require.NoError(t, err)
	_, err = eng.BeginPurchase(ctx, "u1", tier.Plus)
	require.NoError(t, err)
	_, err = eng.Reconcile(ctx, "u1", tier.Plus)
	require.NoError(t, err)
	require.NoError(t, eng.SignOut(ctx))

	assert.Equal(t, []string{
		audithook.ActionRecordCreated,
		audithook.ActionGenerationConsumed,
		audithook.ActionPurchaseStarted,
		audithook.ActionTierChanged,
		audithook.ActionReconciled,
		audithook.ActionSignedOut,
	}, s.actions())

	changed := s.events[3]
	assert.Equal(t, "u1", changed.ResourceID)
	assert.Equal(t, "free", changed.Metadata["from"])
	assert.Equal(t, "plus", changed.Metadata["to"])
	assert.Equal(t, 200, changed.Metadata["remaining"])
}

func TestExtension_GuestDenied(t *testing.T) {
	ctx := context.Background()
	s := &sink{}
	ext := audithook.New(s)

	require.NoError(t, ext.OnGuestConsumed(ctx, entitlement.Denied(entitlement.ReasonGuestQuotaExhausted)))

	require.Len(t, s.events, 1)
	evt := s.events[0]
	assert.Equal(t, audithook.ActionGuestDenied, evt.Action)
	assert.Equal(t, audithook.OutcomeFailure, evt.Outcome)
	assert.Equal(t, string(entitlement.ReasonGuestQuotaExhausted), evt.Metadata["reason"])
}

func TestExtension_ReconcileFailedCarriesReason(t *testing.T) {
	s := &sink{}
	ext := audithook.New(s)

	require.NoError(t, ext.OnReconcileFailed(context.Background(), "u1", allowance.ErrOracleUnreachable))

	require.Len(t, s.events, 1)
	assert.Equal(t, audithook.SeverityError, s.events[0].Severity)
	assert.Equal(t, allowance.ErrOracleUnreachable.Error(), s.events[0].Reason)
}

func TestExtension_UnchangedReconcileIsSilent(t *testing.T) {
	s := &sink{}
	ext := audithook.New(s)

	require.NoError(t, ext.OnReconciled(context.Background(), &entitlement.Record{IdentityID: "u1"}, false))
	assert.Empty(t, s.events)
}

func TestExtension_ActionFilters(t *testing.T) {
	ctx := context.Background()
	rec := &entitlement.Record{IdentityID: "u1", TierID: tier.Free}

	t.Run("enabled", func(t *testing.T) {
		s := &sink{}
		ext := audithook.New(s, audithook.WithEnabledActions(audithook.ActionSignedOut))

		require.NoError(t, ext.OnRecordCreated(ctx, rec))
		require.NoError(t, ext.OnSignedOut(ctx, "u1"))
		assert.Equal(t, []string{audithook.ActionSignedOut}, s.actions())
	})

	t.Run("disabled", func(t *testing.T) {
		s := &sink{}
		ext := audithook.New(s, audithook.WithDisabledActions(audithook.ActionRecordCreated))

		require.NoError(t, ext.OnRecordCreated(ctx, rec))
		require.NoError(t, ext.OnSignedOut(ctx, "u1"))
		assert.Equal(t, []string{audithook.ActionSignedOut}, s.actions())
	})
}

func TestExtension_RecorderFailureIsSwallowed(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	}))

	assert.NoError(t, ext.OnSignedOut(context.Background(), "u1"))
}
