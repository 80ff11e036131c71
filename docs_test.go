package allowance_test

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/allowance"
	audithook "github.com/xraph/allowance/audit_hook"
	"github.com/xraph/allowance/observability"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/store/memory"
)

// TestDocumentationExamples verifies that the package documentation examples compile and run.
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from the package doc
	t.Run("QuickStartExample", func(t *testing.T) {
		ctx := context.Background()

		oracle := &fakeOracle{tier: allowance.Free}
		checkout := &fakeCheckout{}

		// Create store (memory for demo, use Redis or PostgreSQL in production)
		e := allowance.New(memory.New(),
			allowance.WithLogger(slog.Default()),
			allowance.WithOracle(oracle),
			allowance.WithCheckout(checkout),
			allowance.WithPlugin(observability.NewMetricsExtension(
				observability.NewPrometheusFactory(prometheus.NewRegistry()),
			)),
			allowance.WithPlugin(audithook.New(audithook.RecorderFunc(
				func(_ context.Context, evt *audithook.AuditEvent) error {
					log.Printf("audit: %s %s", evt.Action, evt.ResourceID)
					return nil
				},
			))),
		)

		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer e.Stop()

		// Tiers come from the catalog
		if _, err := e.Catalog().Lookup(allowance.Plus); err != nil {
			t.Fatal(err)
		}

		// Sign in creates the record on the zero tier
		rec, err := e.SignIn(ctx, allowance.Identity{ID: "user_123"})
		if err != nil {
			t.Fatal(err)
		}

		// Consume a generation
		res, err := e.TryConsume(ctx, rec.IdentityID)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Granted {
			t.Fatalf("expected a grant, got %s", res.Reason)
		}

		// Upgrade, then come back from checkout
		if _, err := e.Upgrade(ctx, rec.IdentityID, allowance.Plus); err != nil {
			t.Fatal(err)
		}
		oracle.tier = allowance.Plus

		q, _ := url.ParseQuery(purchase.QuerySuccess + "=true")
		synced, err := e.HandleReturn(ctx, purchase.ParseReturnSignal(q))
		if err != nil {
			t.Fatal(err)
		}
		if !synced.Changed || synced.Record.GenerationsRemaining != 200 {
			t.Fatalf("unexpected sync result %+v", synced)
		}
	})
}
