package generation_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/generation"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/store/memory"
)

var upload = generation.Image{MIMEType: generation.MIMEJPEG, Data: []byte("jpeg-bytes")}

type stubGenerator struct {
	err   error
	calls int
}

func (g *stubGenerator) Generate(_ context.Context, img generation.Image) (generation.Image, error) {
	g.calls++
	if g.err != nil {
		return generation.Image{}, g.err
	}
	return generation.Image{MIMEType: generation.MIMEPNG, Data: append([]byte("gen:"), img.Data...)}, nil
}

func newStudio(t *testing.T, g generation.Generator) (*generation.Studio, *allowance.Engine) {
	t.Helper()
	e := allowance.New(memory.New())
	return generation.NewStudio(e, g, nil), e
}

func TestImage_Validate(t *testing.T) {
	tests := []struct {
		img  generation.Image
		want error
	}{
		{generation.Image{MIMEType: generation.MIMEPNG, Data: []byte{1}}, nil},
		{generation.Image{MIMEType: generation.MIMEWebP, Data: []byte{1}}, nil},
		{generation.Image{MIMEType: "image/gif", Data: []byte{1}}, generation.ErrUnsupportedImage},
		{generation.Image{MIMEType: generation.MIMEPNG}, generation.ErrEmptyImage},
	}
	for _, tt := range tests {
		t.Run(tt.img.MIMEType, func(t *testing.T) {
			err := tt.img.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStudio_IdentityGeneration(t *testing.T) {
	ctx := context.Background()
	g := &stubGenerator{}
	s, e := newStudio(t, g)
	_, err := e.GetOrCreate(ctx, identity.Identity{ID: "u1"})
	require.NoError(t, err)

	out, err := s.Generate(ctx, "u1", upload)
	require.NoError(t, err)
	assert.Equal(t, generation.MIMEPNG, out.Image.MIMEType)
	assert.True(t, out.Result.Granted)
	assert.Equal(t, 4, out.Result.Remaining)
}

func TestStudio_RejectsBadUploadWithoutConsuming(t *testing.T) {
	ctx := context.Background()
	g := &stubGenerator{}
	s, e := newStudio(t, g)

	_, err := s.Generate(ctx, "", generation.Image{MIMEType: "image/gif", Data: []byte{1}})
	require.ErrorIs(t, err, generation.ErrUnsupportedImage)
	assert.Zero(t, g.calls)

	left, err := e.GuestRemaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, left)
}

func TestStudio_RefundsOnGeneratorFailure(t *testing.T) {
	ctx := context.Background()
	g := &stubGenerator{err: errors.New("model overloaded")}
	s, e := newStudio(t, g)
	_, err := e.GetOrCreate(ctx, identity.Identity{ID: "u1"})
	require.NoError(t, err)

	_, err = s.Generate(ctx, "u1", upload)
	require.ErrorIs(t, err, generation.ErrGenerationFailed)

	rec, err := e.Record(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.GenerationsRemaining)

	_, err = s.Generate(ctx, "", upload)
	require.ErrorIs(t, err, generation.ErrGenerationFailed)
	left, err := e.GuestRemaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, left)
}

func TestStudio_DenialMessages(t *testing.T) {
	ctx := context.Background()
	s, e := newStudio(t, &stubGenerator{})
	_, err := e.GetOrCreate(ctx, identity.Identity{ID: "u1"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.Generate(ctx, "u1", upload)
		require.NoError(t, err)
		_, err = s.Generate(ctx, "", upload)
		require.NoError(t, err)
	}

	_, err = s.Generate(ctx, "u1", upload)
	var identityDenial *generation.Denial
	require.ErrorAs(t, err, &identityDenial)
	require.ErrorIs(t, err, allowance.ErrQuotaExhausted)

	_, err = s.Generate(ctx, "", upload)
	var guestDenial *generation.Denial
	require.ErrorAs(t, err, &guestDenial)
	require.ErrorIs(t, err, allowance.ErrGuestQuotaExhausted)

	assert.NotEqual(t, identityDenial.Message(), guestDenial.Message())
	assert.Contains(t, guestDenial.Message(), "sign in")
	assert.Contains(t, identityDenial.Message(), "upgrade")
}

func TestHTTPGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, generation.MIMEJPEG, in["mimeType"])

		raw, err := base64.StdEncoding.DecodeString(in["base64Image"])
		assert.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"generatedImageBase64": base64.StdEncoding.EncodeToString(append([]byte("out:"), raw...)),
		})
	}))
	defer srv.Close()

	g := generation.NewHTTPGenerator(srv.URL, time.Second, srv.Client())
	out, err := g.Generate(context.Background(), upload)
	require.NoError(t, err)
	assert.Equal(t, generation.MIMEPNG, out.MIMEType)
	assert.Equal(t, "out:jpeg-bytes", string(out.Data))
}

func TestHTTPGenerator_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		msg    string
	}{
		{"backend error", http.StatusInternalServerError, `{"error":"safety filter"}`, "safety filter"},
		{"no image", http.StatusOK, `{}`, "did not return an image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := generation.NewHTTPGenerator(srv.URL, time.Second, srv.Client()).Generate(context.Background(), upload)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
