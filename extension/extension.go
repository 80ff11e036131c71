// Package extension provides the Forge extension adapter for allowance.
//
// It implements the forge.Extension interface to integrate allowance
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.allowance" or "allowance" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/checkout"
	"github.com/xraph/allowance/guest"
	"github.com/xraph/allowance/guest/redisguest"
	"github.com/xraph/allowance/oracle"
	"github.com/xraph/allowance/store"
	"github.com/xraph/allowance/store/memory"
	redisstore "github.com/xraph/allowance/store/redis"
	"github.com/xraph/allowance/tier"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "allowance"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Tiered generation allowances with subscription reconciliation"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts allowance as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *allowance.Engine
	store      store.Store
	engineOpts []allowance.Option
}

// New creates a new allowance Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying allowance engine.
// This is nil until Register is called.
func (e *Extension) Engine() *allowance.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	opts, err := e.buildEngineOpts(context.Background())
	if err != nil {
		return err
	}

	e.engine = allowance.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*allowance.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("allowance: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("allowance: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts resolves the store and outbound clients from the config
// and returns the engine options derived from them.
func (e *Extension) buildEngineOpts(ctx context.Context) ([]allowance.Option, error) {
	opts := make([]allowance.Option, 0, len(e.engineOpts)+5)

	guestAllowance := e.config.GuestAllowance
	if guestAllowance <= 0 {
		guestAllowance = tier.GuestAllowance
	}

	if e.store == nil && e.config.RedisURL != "" {
		rs, err := redisstore.Open(ctx, e.config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("allowance: open redis store: %w", err)
		}
		e.store = rs
		opts = append(opts, allowance.WithGuestCounter(redisguest.New(
			rs.Client(), redisstore.DefaultPrefix+"guest", guestAllowance, e.config.GuestTTL,
		)))
	} else if e.config.GuestAllowance > 0 {
		opts = append(opts, allowance.WithGuestCounter(guest.NewMemory(guestAllowance)))
	}
	// Guests share the zero tier's quota, so a configured allowance
	// reshapes the catalog's zero tier to match.
	if guestAllowance != tier.GuestAllowance {
		cat, err := catalogWithGuestAllowance(tier.DefaultCatalog(), guestAllowance)
		if err != nil {
			return nil, err
		}
		opts = append(opts, allowance.WithCatalog(cat))
	}

	// Use memory store if no store was provided.
	if e.store == nil {
		e.store = memory.New()
	}

	if e.config.OracleURL != "" {
		o, err := oracle.New(oracle.Config{URL: e.config.OracleURL, Timeout: e.config.HTTPTimeout}, nil)
		if err != nil {
			return nil, err
		}
		opts = append(opts, allowance.WithOracle(o))
	}

	if e.config.CheckoutURL != "" {
		c, err := checkout.New(checkout.Config{
			CheckoutURL: e.config.CheckoutURL,
			PortalURL:   e.config.PortalURL,
			SuccessURL:  e.config.SuccessURL,
			CancelURL:   e.config.CancelURL,
			Timeout:     e.config.HTTPTimeout,
		}, nil)
		if err != nil {
			return nil, err
		}
		opts = append(opts, allowance.WithCheckout(c))
	}

	if e.config.DisableMigrate {
		opts = append(opts, allowance.WithSkipMigrate())
	}
	if e.config.RetainOnSignOut {
		opts = append(opts, allowance.WithRetainOnSignOut())
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts, nil
}

// catalogWithGuestAllowance returns base with its zero tier's quota set to n.
func catalogWithGuestAllowance(base *tier.Catalog, n int) (*tier.Catalog, error) {
	tiers := base.All()
	tiers[0].MonthlyQuota = n
	return tier.NewCatalog(tiers...)
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("allowance: configuration is required but not found in config files; " +
				"ensure 'extensions.allowance' or 'allowance' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("allowance: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("retain_on_sign_out", e.config.RetainOnSignOut),
		forge.F("guest_allowance", e.config.GuestAllowance),
		forge.F("redis", e.config.RedisURL != ""),
		forge.F("oracle", e.config.OracleURL != ""),
		forge.F("checkout", e.config.CheckoutURL != ""),
		forge.F("http_timeout", e.config.HTTPTimeout),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.allowance", "allowance"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("allowance: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("allowance: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = defaults.HTTPTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.RetainOnSignOut {
		yamlConfig.RetainOnSignOut = true
	}

	// String fields: YAML takes precedence.
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
		}
	}
	fill(&yamlConfig.RedisURL, programmaticConfig.RedisURL)
	fill(&yamlConfig.OracleURL, programmaticConfig.OracleURL)
	fill(&yamlConfig.CheckoutURL, programmaticConfig.CheckoutURL)
	fill(&yamlConfig.PortalURL, programmaticConfig.PortalURL)
	fill(&yamlConfig.SuccessURL, programmaticConfig.SuccessURL)
	fill(&yamlConfig.CancelURL, programmaticConfig.CancelURL)

	// Duration fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.GuestAllowance == 0 && programmaticConfig.GuestAllowance != 0 {
		yamlConfig.GuestAllowance = programmaticConfig.GuestAllowance
	}
	if yamlConfig.HTTPTimeout == 0 && programmaticConfig.HTTPTimeout != 0 {
		yamlConfig.HTTPTimeout = programmaticConfig.HTTPTimeout
	}
	if yamlConfig.GuestTTL == 0 && programmaticConfig.GuestTTL != 0 {
		yamlConfig.GuestTTL = programmaticConfig.GuestTTL
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
