package httpjson_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/allowance/internal/httpjson"
)

func TestPost_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer srv.Close()

	var out struct {
		Echo string `json:"echo"`
	}
	err := httpjson.Post(context.Background(), httpjson.NewClient(time.Second), srv.URL,
		map[string]string{"msg": "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Echo)
}

func TestPost_ErrorBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error field", `{"error":"No such customer"}`, "No such customer"},
		{"message field", `{"message":"bad price"}`, "bad price"},
		{"plain text", "upstream down\n", "upstream down"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := httpjson.Post(context.Background(), srv.Client(), srv.URL, struct{}{}, &struct{}{})
			var se *httpjson.StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, http.StatusBadGateway, se.StatusCode)
			assert.Equal(t, tt.want, se.Message)
		})
	}
}

func TestPost_Undecodable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var out map[string]string
	err := httpjson.Post(context.Background(), srv.Client(), srv.URL, struct{}{}, &out)
	require.ErrorIs(t, err, httpjson.ErrDecode)
}
