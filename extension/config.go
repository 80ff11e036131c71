package extension

import "time"

// Config holds the allowance extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.allowance" or "allowance" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// RetainOnSignOut keeps entitlement records when their identity signs out.
	RetainOnSignOut bool `json:"retain_on_sign_out" mapstructure:"retain_on_sign_out" yaml:"retain_on_sign_out"`

	// GuestAllowance overrides the shared anonymous allowance and the zero
	// tier's monthly quota together, so the two never diverge. When 0 the
	// default zero tier quota is used.
	GuestAllowance int `json:"guest_allowance" mapstructure:"guest_allowance" yaml:"guest_allowance"`

	// RedisURL selects the Redis store and a shared guest counter. When empty
	// the in-memory store is used.
	RedisURL string `json:"redis_url" mapstructure:"redis_url" yaml:"redis_url"`

	// GuestTTL expires the shared guest counter (Redis only, 0 = never).
	GuestTTL time.Duration `json:"guest_ttl" mapstructure:"guest_ttl" yaml:"guest_ttl"`

	// OracleURL is the subscription-status endpoint. Sync is disabled when empty.
	OracleURL string `json:"oracle_url" mapstructure:"oracle_url" yaml:"oracle_url"`

	// CheckoutURL creates checkout sessions. Upgrade is disabled when empty.
	CheckoutURL string `json:"checkout_url" mapstructure:"checkout_url" yaml:"checkout_url"`

	// PortalURL creates billing-portal sessions.
	PortalURL string `json:"portal_url" mapstructure:"portal_url" yaml:"portal_url"`

	// SuccessURL and CancelURL are the post-checkout return targets.
	SuccessURL string `json:"success_url" mapstructure:"success_url" yaml:"success_url"`
	CancelURL  string `json:"cancel_url" mapstructure:"cancel_url" yaml:"cancel_url"`

	// HTTPTimeout bounds each oracle and checkout round-trip (default: 15s).
	HTTPTimeout time.Duration `json:"http_timeout" mapstructure:"http_timeout" yaml:"http_timeout"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout: 15 * time.Second,
	}
}
