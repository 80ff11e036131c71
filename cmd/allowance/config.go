package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xraph/allowance/checkout"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/oracle"
)

// Config is the CLI configuration. It is read from an optional YAML file
// and then overridden by ALLOWANCE_* environment variables (a .env file
// in the working directory is loaded first).
type Config struct {
	LogLevel        string        `yaml:"log_level"`
	RedisURL        string        `yaml:"redis_url"`
	GuestTTL        time.Duration `yaml:"guest_ttl"`
	RetainOnSignOut bool          `yaml:"retain_on_sign_out"`
	GeneratorURL    string        `yaml:"generator_url"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`

	Oracle   oracle.Config   `yaml:"oracle"`
	Checkout checkout.Config `yaml:"checkout"`
	Identity identity.Config `yaml:"identity"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:    "info",
		HTTPTimeout: 15 * time.Second,
	}
}

// loadConfig reads path (if non-empty) and applies environment overrides.
func loadConfig(path string) (Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env is optional

	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Oracle.Timeout == 0 {
		cfg.Oracle.Timeout = cfg.HTTPTimeout
	}
	if cfg.Checkout.Timeout == 0 {
		cfg.Checkout.Timeout = cfg.HTTPTimeout
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.LogLevel, "ALLOWANCE_LOG_LEVEL")
	setString(&cfg.RedisURL, "ALLOWANCE_REDIS_URL")
	setString(&cfg.GeneratorURL, "ALLOWANCE_GENERATOR_URL")
	setString(&cfg.Oracle.URL, "ALLOWANCE_ORACLE_URL")
	setString(&cfg.Checkout.CheckoutURL, "ALLOWANCE_CHECKOUT_URL")
	setString(&cfg.Checkout.PortalURL, "ALLOWANCE_PORTAL_URL")
	setString(&cfg.Checkout.SuccessURL, "ALLOWANCE_SUCCESS_URL")
	setString(&cfg.Checkout.CancelURL, "ALLOWANCE_CANCEL_URL")
	setString(&cfg.Identity.IssuerURL, "ALLOWANCE_OIDC_ISSUER_URL")
	setString(&cfg.Identity.ClientID, "ALLOWANCE_OIDC_CLIENT_ID")
	setString(&cfg.Identity.ClientSecret, "ALLOWANCE_OIDC_CLIENT_SECRET")
	setString(&cfg.Identity.RedirectURL, "ALLOWANCE_OIDC_REDIRECT_URL")

	if err := setDuration(&cfg.HTTPTimeout, "ALLOWANCE_HTTP_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.GuestTTL, "ALLOWANCE_GUEST_TTL"); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("ALLOWANCE_RETAIN_ON_SIGN_OUT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ALLOWANCE_RETAIN_ON_SIGN_OUT: %w", err)
		}
		cfg.RetainOnSignOut = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
