package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/allowance/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
		prefix  string
	}{
		{"PurchaseID", id.NewPurchaseID, id.ParsePurchaseID, "pur_"},
		{"ReceiptID", id.NewReceiptID, id.ParseReceiptID, "gen_"},
		{"SessionID", id.NewSessionID, id.ParseSessionID, "sess_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			assert.True(t, strings.HasPrefix(original.String(), tt.prefix))

			parsed, err := tt.parseFn(original.String())
			require.NoError(t, err)
			assert.Equal(t, original.String(), parsed.String())
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	_, err := id.ParsePurchaseID(id.NewReceiptID().String())
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	_, err := id.Parse("")
	assert.Error(t, err)
}

func TestNil(t *testing.T) {
	assert.True(t, id.Nil.IsNil())
	assert.Empty(t, id.Nil.String())
	assert.Empty(t, string(id.Nil.Prefix()))

	v, err := id.Nil.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestJSONAndScan(t *testing.T) {
	original := id.NewPurchaseID()

	data, err := json.Marshal(struct {
		ID id.ID `json:"id"`
	}{original})
	require.NoError(t, err)

	var decoded struct {
		ID id.ID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.String(), decoded.ID.String())

	var scanned id.ID
	require.NoError(t, scanned.Scan(original.String()))
	assert.Equal(t, original.String(), scanned.String())

	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsNil())

	assert.Error(t, scanned.Scan(42))
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 500)
	for range 500 {
		s := id.NewReceiptID().String()
		_, dup := seen[s]
		require.False(t, dup, "duplicate id %s", s)
		seen[s] = struct{}{}
	}
}
