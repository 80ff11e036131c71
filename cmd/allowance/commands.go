package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/generation"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/tier"
)

func (c *cli) tiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List the tier catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tQUOTA\tPRICE\tFEATURES")
			for _, t := range c.engine.Catalog().All() {
				price := "-"
				if t.Purchasable() {
					price = fmt.Sprintf("$%d.%02d/mo", t.PriceCents/100, t.PriceCents%100)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", t.ID, t.Name, t.MonthlyQuota, price, strings.Join(t.Features, ", "))
			}
			return tw.Flush()
		},
	}
}

func (c *cli) signInCmd() *cobra.Command {
	var (
		idToken, code        string
		subject, email, name string
		printURL             bool
	)
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and make the identity current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var ident identity.Identity
			switch {
			case printURL, idToken != "", code != "":
				v, err := identity.NewVerifier(ctx, c.cfg.Identity)
				if err != nil {
					return err
				}
				if printURL {
					u, err := v.AuthCodeURL("allowance-cli")
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), u)
					return nil
				}
				var claims identity.Claims
				if idToken != "" {
					claims, err = v.Verify(ctx, idToken)
				} else {
					claims, err = v.Exchange(ctx, code)
				}
				if err != nil {
					return err
				}
				if ident, err = claims.Identity(); err != nil {
					return err
				}
			default:
				if subject == "" {
					return errors.New("one of --id-token, --code or --subject is required")
				}
				ident = identity.Identity{ID: subject, Profile: identity.Profile{DisplayName: name, Email: email}}
			}

			rec, err := c.engine.SignIn(ctx, ident)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s), %d generations remaining\n",
				rec.IdentityID, rec.TierID, rec.GenerationsRemaining)
			return nil
		},
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "OpenID Connect ID token")
	cmd.Flags().StringVar(&code, "code", "", "authorization code to exchange")
	cmd.Flags().BoolVar(&printURL, "print-url", false, "print the provider sign-in URL and exit")
	cmd.Flags().StringVar(&subject, "subject", "", "identity ID, without token verification")
	cmd.Flags().StringVar(&email, "email", "", "contact email used with --subject")
	cmd.Flags().StringVar(&name, "name", "", "display name used with --subject")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			rec, err := c.engine.CurrentRecord(ctx)
			if errors.Is(err, allowance.ErrNotSignedIn) {
				n, err := c.engine.GuestRemaining(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "guest: %d free generations remaining\n", n)
				return nil
			}
			if err != nil {
				return err
			}

			t, err := c.engine.Catalog().Lookup(rec.TierID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s plan, %d of %d generations remaining\n",
				rec.IdentityID, t.Name, rec.GenerationsRemaining, t.MonthlyQuota)

			p, err := c.engine.PendingPurchase(ctx, rec.IdentityID)
			switch {
			case err == nil:
				fmt.Fprintf(out, "pending purchase: %s (%s)\n", p.TierID, p.ID)
			case !errors.Is(err, allowance.ErrPendingNotFound):
				return err
			}
			return nil
		},
	}
}

func (c *cli) generateCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "generate <image>",
		Short: "Generate an image, paying from the current balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if c.cfg.GeneratorURL == "" {
				return errors.New("generator_url is not configured")
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			img := generation.Image{MIMEType: detectMIME(args[0], data), Data: data}

			identityID, err := c.engine.CurrentIdentity(ctx)
			if err != nil && !errors.Is(err, allowance.ErrNotSignedIn) {
				return err
			}

			studio := generation.NewStudio(c.engine,
				generation.NewHTTPGenerator(c.cfg.GeneratorURL, c.cfg.HTTPTimeout, nil), c.logger)
			res, err := studio.Generate(ctx, identityID, img)
			if err != nil {
				var denial *generation.Denial
				if errors.As(err, &denial) {
					return errors.New(denial.Message())
				}
				return err
			}

			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".generated.png"
			}
			if err := os.WriteFile(output, res.Image.Data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s, %d generations remaining\n", output, res.Result.Remaining)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "where to write the generated PNG")
	return cmd
}

func (c *cli) upgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <tier>",
		Short: "Start a checkout for a paid tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cur, err := c.engine.CurrentIdentity(ctx)
			if err != nil {
				return err
			}
			h, err := c.engine.Upgrade(ctx, cur, tier.ID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkout session: %s\n", h.Value)
			return nil
		},
	}
}

func (c *cli) portalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "portal",
		Short: "Open a billing-portal session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cur, err := c.engine.CurrentIdentity(ctx)
			if err != nil {
				return err
			}
			h, err := c.engine.ManageBilling(ctx, cur)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h.Value)
			return nil
		},
	}
}

func (c *cli) returnCmd() *cobra.Command {
	var success, canceled bool
	cmd := &cobra.Command{
		Use:   "return [redirect-url]",
		Short: "Handle the return from checkout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sig purchase.ReturnSignal
			switch {
			case len(args) == 1:
				u, err := url.Parse(args[0])
				if err != nil {
					return err
				}
				sig = purchase.ParseReturnSignal(u.Query())
			case success:
				sig.Outcome = purchase.OutcomeSuccess
			case canceled:
				sig.Outcome = purchase.OutcomeCanceled
			}

			res, err := c.engine.HandleReturn(cmd.Context(), sig)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch sig.Outcome {
			case purchase.OutcomeSuccess:
				printSync(out, res)
			case purchase.OutcomeCanceled:
				fmt.Fprintln(out, "checkout canceled")
			default:
				fmt.Fprintln(out, "no checkout outcome")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&success, "success", false, "checkout completed")
	cmd.Flags().BoolVar(&canceled, "canceled", false, "checkout abandoned")
	cmd.MarkFlagsMutuallyExclusive("success", "canceled")
	return cmd
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Ask the billing system for the current tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cur, err := c.engine.CurrentIdentity(ctx)
			if err != nil {
				return err
			}
			res, err := c.engine.Sync(ctx, cur)
			if err != nil {
				return err
			}
			printSync(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func (c *cli) signOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.engine.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func printSync(w io.Writer, res allowance.SyncResult) {
	if res.Record == nil {
		return
	}
	if res.Changed {
		fmt.Fprintf(w, "plan changed to %s, %d generations remaining\n", res.Record.TierID, res.Record.GenerationsRemaining)
		return
	}
	if res.Requested != "" && res.Requested != res.Record.TierID {
		fmt.Fprintf(w, "payment for %s not confirmed yet, still on %s\n", res.Requested, res.Record.TierID)
		return
	}
	fmt.Fprintf(w, "plan unchanged (%s), %d generations remaining\n", res.Record.TierID, res.Record.GenerationsRemaining)
}

// detectMIME trusts the file extension and falls back to content sniffing.
func detectMIME(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return generation.MIMEPNG
	case ".jpg", ".jpeg":
		return generation.MIMEJPEG
	case ".webp":
		return generation.MIMEWebP
	}
	return http.DetectContentType(data)
}
