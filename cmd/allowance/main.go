// Command allowance drives an allowance engine from the shell: sign in,
// generate against the current balance, upgrade through checkout and sync
// the tier with the billing system.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xraph/allowance"
	audithook "github.com/xraph/allowance/audit_hook"
	"github.com/xraph/allowance/checkout"
	"github.com/xraph/allowance/guest/redisguest"
	"github.com/xraph/allowance/oracle"
	"github.com/xraph/allowance/store"
	"github.com/xraph/allowance/store/memory"
	redisstore "github.com/xraph/allowance/store/redis"
	"github.com/xraph/allowance/tier"
)

// Version information (set at build time with -ldflags)
var Version = "dev"

// cli holds state shared by every subcommand for one invocation.
type cli struct {
	configPath string
	memory     bool
	audit      bool

	cfg    Config
	logger *slog.Logger
	store  store.Store
	engine *allowance.Engine
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "allowance",
		Short:         "Tiered generation allowances",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd.Context(), cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return c.close()
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVar(&c.memory, "memory", false, "use an ephemeral in-process store")
	root.PersistentFlags().BoolVar(&c.audit, "audit", false, "print audit events to stderr as JSON")

	root.AddCommand(
		c.tiersCmd(),
		c.signInCmd(),
		c.statusCmd(),
		c.generateCmd(),
		c.upgradeCmd(),
		c.portalCmd(),
		c.returnCmd(),
		c.syncCmd(),
		c.signOutCmd(),
	)
	return root
}

// open loads configuration and starts the engine.
func (c *cli) open(ctx context.Context, stderr io.Writer) error {
	cfg, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	opts := []allowance.Option{allowance.WithLogger(c.logger)}

	switch {
	case c.memory || cfg.RedisURL == "":
		if !c.memory {
			c.logger.Warn("no redis_url configured, state will not survive this command")
		}
		c.store = memory.New()
	default:
		rs, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		c.store = rs
		opts = append(opts, allowance.WithGuestCounter(
			redisguest.New(rs.Client(), redisstore.DefaultPrefix+"guest", tier.GuestAllowance, cfg.GuestTTL),
		))
	}

	if cfg.Oracle.URL != "" {
		o, err := oracle.New(cfg.Oracle, nil)
		if err != nil {
			return err
		}
		opts = append(opts, allowance.WithOracle(o))
	}
	if cfg.Checkout.CheckoutURL != "" {
		co, err := checkout.New(cfg.Checkout, nil)
		if err != nil {
			return err
		}
		opts = append(opts, allowance.WithCheckout(co))
	}
	if cfg.RetainOnSignOut {
		opts = append(opts, allowance.WithRetainOnSignOut())
	}
	if c.audit {
		opts = append(opts, allowance.WithPlugin(audithook.New(jsonRecorder(stderr), audithook.WithLogger(c.logger))))
	}

	c.engine = allowance.New(c.store, opts...)
	return c.engine.Start(ctx)
}

func (c *cli) close() error {
	if c.engine == nil {
		return nil
	}
	return c.engine.Stop()
}

// jsonRecorder writes one audit event per line.
func jsonRecorder(w io.Writer) audithook.Recorder {
	enc := json.NewEncoder(w)
	return audithook.RecorderFunc(func(_ context.Context, evt *audithook.AuditEvent) error {
		return enc.Encode(evt)
	})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
