package extension

import (
	"time"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/plugin"
	"github.com/xraph/allowance/store"
)

// Option configures the allowance Forge extension.
type Option func(*Extension)

// WithStore sets the store for the allowance engine. It takes precedence
// over RedisURL.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes an allowance.Option through to the underlying engine.
func WithEngineOption(opt allowance.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an allowance plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, allowance.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRetainOnSignOut keeps records across sign-out.
func WithRetainOnSignOut() Option {
	return func(e *Extension) { e.config.RetainOnSignOut = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithRedisURL selects the Redis store.
func WithRedisURL(url string) Option {
	return func(e *Extension) { e.config.RedisURL = url }
}

// WithOracleURL sets the subscription-status endpoint.
func WithOracleURL(url string) Option {
	return func(e *Extension) { e.config.OracleURL = url }
}

// WithCheckoutURLs sets the checkout endpoint and its return targets.
func WithCheckoutURLs(checkoutURL, successURL, cancelURL string) Option {
	return func(e *Extension) {
		e.config.CheckoutURL = checkoutURL
		e.config.SuccessURL = successURL
		e.config.CancelURL = cancelURL
	}
}

// WithPortalURL sets the billing-portal endpoint.
func WithPortalURL(url string) Option {
	return func(e *Extension) { e.config.PortalURL = url }
}

// WithHTTPTimeout bounds each outbound round-trip.
func WithHTTPTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.HTTPTimeout = d }
}

// WithGuestAllowance overrides the shared anonymous allowance.
func WithGuestAllowance(n int) Option {
	return func(e *Extension) { e.config.GuestAllowance = n }
}
