package purchase_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/allowance/purchase"
)

func TestParseReturnSignal(t *testing.T) {
	tests := []struct {
		query string
		want  purchase.Outcome
	}{
		{"checkout_success=true", purchase.OutcomeSuccess},
		{"checkout_canceled=true", purchase.OutcomeCanceled},
		{"checkout_success=true&checkout_canceled=true", purchase.OutcomeSuccess},
		{"foo=bar", purchase.OutcomeNone},
		{"", purchase.OutcomeNone},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, purchase.ParseReturnSignal(q).Outcome)
		})
	}
}

func TestWithOutcome(t *testing.T) {
	got, err := purchase.WithOutcome("https://app.example.com/?ref=x", purchase.OutcomeSuccess)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, purchase.OutcomeSuccess, purchase.ParseReturnSignal(u.Query()).Outcome)
	assert.Equal(t, "x", u.Query().Get("ref"))

	got, err = purchase.WithOutcome("https://app.example.com/", purchase.OutcomeCanceled)
	require.NoError(t, err)
	assert.Contains(t, got, "checkout_canceled=true")
}
