// Package oracle asks the billing backend which tier an identity is
// actually subscribed to. It is keyed by the identity's contact address
// because that is what the billing system knows.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/internal/httpjson"
	"github.com/xraph/allowance/tier"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Config configures a Client.
type Config struct {
	// URL of the subscription-status endpoint.
	URL string `json:"url" yaml:"url"`
	// Timeout for one round-trip.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Client implements allowance.Oracle over HTTP.
type Client struct {
	url  string
	http *http.Client
}

var _ allowance.Oracle = (*Client)(nil)

// New returns a Client. A nil httpClient gets an instrumented default.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.URL == "" {
		return nil, allowance.ValidationError{Field: "oracle_url", Message: "must not be empty"}
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = httpjson.NewClient(timeout)
	}
	return &Client{url: cfg.URL, http: httpClient}, nil
}

type statusRequest struct {
	UserEmail string `json:"userEmail"`
}

type statusResponse struct {
	TierID *string `json:"tierId"`
}

// FetchAuthoritativeTier returns the tier the billing backend reports. Any
// transport failure or non-2xx status is ErrOracleUnreachable; a body
// without a string tierId is ErrMalformedResponse.
//
// An identity without a contact address cannot be looked up, so it fails
// with a ValidationError (matching ErrInvalidInput) before any request is
// sent. The engine treats it like any other oracle failure and changes
// nothing.
func (c *Client) FetchAuthoritativeTier(ctx context.Context, ident identity.Identity) (tier.ID, error) {
	addr := ident.ContactAddress()
	if addr == "" {
		return "", allowance.ValidationError{Field: "email", Message: "identity has no contact address"}
	}

	var out statusResponse
	err := httpjson.Post(ctx, c.http, c.url, statusRequest{UserEmail: addr}, &out)
	switch {
	case err == nil:
	case errors.Is(err, httpjson.ErrDecode):
		return "", fmt.Errorf("%w: %w", allowance.ErrMalformedResponse, err)
	default:
		return "", fmt.Errorf("%w: %w", allowance.ErrOracleUnreachable, err)
	}

	if out.TierID == nil {
		return "", fmt.Errorf("%w: missing tierId", allowance.ErrMalformedResponse)
	}
	return tier.ID(*out.TierID), nil
}
