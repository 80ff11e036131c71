// Package generation runs one image generation against the caller's
// allowance: it reserves a generation up front, calls the generator and
// gives the reservation back if the generator fails.
package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/allowance/internal/httpjson"
)

// Supported upload types.
const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
	MIMEWebP = "image/webp"
)

var (
	// ErrUnsupportedImage is returned for uploads that are not PNG, JPEG or WebP.
	ErrUnsupportedImage = errors.New("generation: invalid file type, upload a PNG, JPG, or WEBP file")
	// ErrEmptyImage is returned for zero-length uploads.
	ErrEmptyImage = errors.New("generation: select an image first")
	// ErrGenerationFailed wraps every generator failure.
	ErrGenerationFailed = errors.New("generation: failed")
)

// Image is raw image bytes with their MIME type.
type Image struct {
	MIMEType string
	Data     []byte
}

// Validate checks that the image can be sent to the generator.
func (img Image) Validate() error {
	if len(img.Data) == 0 {
		return ErrEmptyImage
	}
	switch img.MIMEType {
	case MIMEPNG, MIMEJPEG, MIMEWebP:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedImage, img.MIMEType)
	}
}

// Generator turns an uploaded image into a generated one.
type Generator interface {
	Generate(ctx context.Context, img Image) (Image, error)
}

// HTTPGenerator calls a generation backend that takes and returns
// base64-encoded images.
type HTTPGenerator struct {
	url  string
	http *http.Client
}

var _ Generator = (*HTTPGenerator)(nil)

// NewHTTPGenerator returns a generator posting to url. A nil httpClient
// gets an instrumented default with timeout.
func NewHTTPGenerator(url string, timeout time.Duration, httpClient *http.Client) *HTTPGenerator {
	if httpClient == nil {
		httpClient = httpjson.NewClient(timeout)
	}
	return &HTTPGenerator{url: url, http: httpClient}
}

type generateRequest struct {
	Base64Image string `json:"base64Image"`
	MIMEType    string `json:"mimeType"`
}

type generateResponse struct {
	GeneratedImageBase64 string `json:"generatedImageBase64"`
}

// Generate posts img and decodes the returned PNG.
func (g *HTTPGenerator) Generate(ctx context.Context, img Image) (Image, error) {
	var out generateResponse
	err := httpjson.Post(ctx, g.http, g.url, generateRequest{
		Base64Image: base64.StdEncoding.EncodeToString(img.Data),
		MIMEType:    img.MIMEType,
	}, &out)
	if err != nil {
		return Image{}, err
	}
	if out.GeneratedImageBase64 == "" {
		return Image{}, errors.New("generation: the server did not return an image")
	}

	data, err := base64.StdEncoding.DecodeString(out.GeneratedImageBase64)
	if err != nil {
		return Image{}, fmt.Errorf("generation: decode image: %w", err)
	}
	return Image{MIMEType: MIMEPNG, Data: data}, nil
}
