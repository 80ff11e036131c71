// Package checkout requests payment-processor sessions from the billing
// backend. The handles it returns are opaque; the caller redirects the
// actor with them. Nothing here touches entitlement state.
package checkout

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/internal/httpjson"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/tier"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Config configures a Client.
type Config struct {
	// CheckoutURL creates a checkout session.
	CheckoutURL string `json:"checkout_url" yaml:"checkout_url"`
	// PortalURL creates a billing-portal session.
	PortalURL string `json:"portal_url" yaml:"portal_url"`
	// SuccessURL is where the processor sends the actor after paying.
	// The checkout_success flag is added if missing.
	SuccessURL string `json:"success_url" yaml:"success_url"`
	// CancelURL is where the processor sends the actor after abandoning.
	// The checkout_canceled flag is added if missing.
	CancelURL string `json:"cancel_url" yaml:"cancel_url"`
	// ReturnURL is where the billing portal sends the actor back to.
	// Defaults to SuccessURL without the flag.
	ReturnURL string `json:"return_url" yaml:"return_url"`
	// Timeout for one round-trip.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Client implements allowance.Checkout over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ allowance.Checkout = (*Client)(nil)

// New validates cfg and returns a Client. A nil httpClient gets an
// instrumented default.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.CheckoutURL == "" {
		return nil, allowance.ValidationError{Field: "checkout_url", Message: "must not be empty"}
	}
	if cfg.SuccessURL == "" {
		return nil, allowance.ValidationError{Field: "success_url", Message: "must not be empty"}
	}
	if cfg.CancelURL == "" {
		cfg.CancelURL = cfg.SuccessURL
	}
	if cfg.ReturnURL == "" {
		cfg.ReturnURL = cfg.SuccessURL
	}

	var err error
	if cfg.SuccessURL, err = purchase.WithOutcome(cfg.SuccessURL, purchase.OutcomeSuccess); err != nil {
		return nil, allowance.ValidationError{Field: "success_url", Message: err.Error()}
	}
	if cfg.CancelURL, err = purchase.WithOutcome(cfg.CancelURL, purchase.OutcomeCanceled); err != nil {
		return nil, allowance.ValidationError{Field: "cancel_url", Message: err.Error()}
	}

	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = httpjson.NewClient(timeout)
	}
	return &Client{cfg: cfg, http: httpClient}, nil
}

type checkoutRequest struct {
	PriceID    string `json:"priceId"`
	UserEmail  string `json:"userEmail"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
}

type portalRequest struct {
	UserEmail string `json:"userEmail"`
	ReturnURL string `json:"returnUrl"`
}

type portalResponse struct {
	URL string `json:"url"`
}

// RequestPurchaseSession asks the backend for a checkout session for t.
func (c *Client) RequestPurchaseSession(ctx context.Context, t tier.Tier, ident identity.Identity) (purchase.SessionHandle, error) {
	if !t.Purchasable() {
		return purchase.SessionHandle{}, fmt.Errorf("%w: %q", allowance.ErrInvalidTier, t.ID)
	}

	var out checkoutResponse
	err := httpjson.Post(ctx, c.http, c.cfg.CheckoutURL, checkoutRequest{
		PriceID:    t.PriceRef,
		UserEmail:  ident.ContactAddress(),
		SuccessURL: c.cfg.SuccessURL,
		CancelURL:  c.cfg.CancelURL,
	}, &out)
	if err != nil {
		return purchase.SessionHandle{}, unavailable("checkout session", err)
	}
	if out.SessionID == "" {
		return purchase.SessionHandle{}, fmt.Errorf("%w: checkout session: no session id returned", allowance.ErrCheckoutUnavailable)
	}
	return purchase.SessionHandle{Kind: purchase.SessionCheckout, Value: out.SessionID}, nil
}

// RequestManagementSession asks the backend for a billing-portal session.
func (c *Client) RequestManagementSession(ctx context.Context, ident identity.Identity) (purchase.SessionHandle, error) {
	if c.cfg.PortalURL == "" {
		return purchase.SessionHandle{}, fmt.Errorf("%w: portal url not configured", allowance.ErrCheckoutUnavailable)
	}

	var out portalResponse
	err := httpjson.Post(ctx, c.http, c.cfg.PortalURL, portalRequest{
		UserEmail: ident.ContactAddress(),
		ReturnURL: c.cfg.ReturnURL,
	}, &out)
	if err != nil {
		return purchase.SessionHandle{}, unavailable("portal session", err)
	}
	if out.URL == "" {
		return purchase.SessionHandle{}, fmt.Errorf("%w: portal session: no url returned", allowance.ErrCheckoutUnavailable)
	}
	return purchase.SessionHandle{Kind: purchase.SessionPortal, Value: out.URL}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", allowance.ErrCheckoutUnavailable, op, err)
}
