package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Config configures the OpenID Connect provider used for sign-in.
type Config struct {
	IssuerURL    string   `json:"issuer_url"    yaml:"issuer_url"`
	ClientID     string   `json:"client_id"     yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	RedirectURL  string   `json:"redirect_url"  yaml:"redirect_url"`
	Scopes       []string `json:"scopes"        yaml:"scopes"`
}

// Verifier validates ID tokens and extracts Claims from them.
type Verifier struct {
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewVerifier discovers the provider at cfg.IssuerURL and prepares a verifier.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, errors.New("identity: issuer url and client id are required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("identity: discover provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &Verifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
	}, nil
}

// NewVerifierWith wraps an already-configured token verifier. The returned
// Verifier cannot perform code exchange.
func NewVerifierWith(v *oidc.IDTokenVerifier) *Verifier {
	return &Verifier{verifier: v}
}

// AuthCodeURL returns the provider URL that starts an interactive sign-in.
func (v *Verifier) AuthCodeURL(state string) (string, error) {
	if v.oauth2Config == nil {
		return "", errors.New("identity: verifier has no oauth2 configuration")
	}
	return v.oauth2Config.AuthCodeURL(state), nil
}

// Verify checks a raw ID token and returns its claims.
func (v *Verifier) Verify(ctx context.Context, rawIDToken string) (Claims, error) {
	token, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Claims{}, fmt.Errorf("identity: verify id token: %w", err)
	}

	var claims Claims
	if err := token.Claims(&claims); err != nil {
		return Claims{}, fmt.Errorf("identity: parse claims: %w", err)
	}
	if claims.Subject == "" {
		claims.Subject = token.Subject
	}
	return claims, nil
}

// Exchange trades an authorization code for tokens and verifies the ID token.
func (v *Verifier) Exchange(ctx context.Context, code string) (Claims, error) {
	if v.oauth2Config == nil {
		return Claims{}, errors.New("identity: verifier has no oauth2 configuration")
	}
	if code == "" {
		return Claims{}, errors.New("identity: missing authorization code")
	}

	tok, err := v.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return Claims{}, fmt.Errorf("identity: exchange code: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return Claims{}, errors.New("identity: missing id_token in token response")
	}
	return v.Verify(ctx, rawIDToken)
}
