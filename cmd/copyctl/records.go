package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/copyd/internal/brandctx"
	"github.com/fyrsmithlabs/copyd/internal/gate"
	"github.com/fyrsmithlabs/copyd/internal/records"
	"github.com/fyrsmithlabs/copyd/internal/subject"
)

func newUsageCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show this month's usage of a user",
		Long: `Show the monthly usage report of a user: tier, period and, per
category, used, limit and remaining.

Examples:
  copyctl usage --user alice`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.subject()
			if err != nil {
				return err
			}
			cfg, store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			quota, err := gate.NewQuotaChecker(store, store, gate.TiersFromConfig(cfg.Quota.Tiers),
				gate.QuotaOptions{DefaultTier: cfg.Quota.DefaultTier}, nil)
			if err != nil {
				return err
			}
			report, err := quota.Usage(cmd.Context(), s)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newContextCmd(opts *options) *cobra.Command {
	var (
		preset  string
		toggles []string
	)
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the brand context block a request would carry",
		Long: `Render the brand context block for a subject, exactly as the
pipeline would place it in a system prompt.

Examples:
  copyctl context --user alice --workspace acme
  copyctl context --user alice --preset minimal --toggle offers=true`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.subject()
			if err != nil {
				return err
			}
			override, err := parseToggles(toggles)
			if err != nil {
				return err
			}
			policy, err := brandctx.PolicyFor(preset, override)
			if err != nil {
				return err
			}
			cfg, store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			agg := brandctx.NewAggregator(store, nil, brandctx.Options{
				MaxChars:       cfg.Context.MaxChars,
				MaxSourceChars: cfg.Context.MaxSourceChars,
				MaxFieldChars:  cfg.Context.MaxFieldChars,
				MaxItems:       cfg.Context.MaxItems,
			}, nil)
			block, err := agg.Build(cmd.Context(), s, policy)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), block.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&preset, "preset", brandctx.PresetFull,
		"context preset ("+strings.Join(brandctx.Presets(), ", ")+")")
	cmd.Flags().StringSliceVar(&toggles, "toggle", nil, "override a source, e.g. offers=false")
	return cmd
}

// parseToggles reads name=bool pairs.
func parseToggles(pairs []string) (brandctx.Policy, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	raw := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("toggle %q: expected name=true|false", pair)
		}
		on, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("toggle %q: %w", pair, err)
		}
		raw[name] = on
	}
	return brandctx.ParsePolicy(raw)
}

func newPlanCmd(opts *options) *cobra.Command {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Show or change a user's plan",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the stored plan of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.subject()
			if err != nil {
				return err
			}
			_, store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var p records.Plan
			found, err := store.GetRecord(cmd.Context(), s.OwnerKey(subject.CategoryPlan), subject.CategoryPlan, &p)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "no plan stored for %s (default tier applies)\n", s.UserID)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}

	set := &cobra.Command{
		Use:   "set <tier>",
		Short: "Assign a tier to a user",
		Long: `Store the plan record of a user. Running servers pick the change up
once their plan cache entry expires (quota.plan_cache_ttl).

Examples:
  copyctl plan set pro --user alice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.subject()
			if err != nil {
				return err
			}
			cfg, store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			tier := args[0]
			if _, ok := cfg.Quota.Tiers[tier]; !ok {
				known := make([]string, 0, len(cfg.Quota.Tiers))
				for name := range cfg.Quota.Tiers {
					known = append(known, name)
				}
				sort.Strings(known)
				return fmt.Errorf("unknown tier %q (configured: %s)", tier, strings.Join(known, ", "))
			}
			p := &records.Plan{Tier: tier, RenewedAt: time.Now().UTC()}
			if err := store.PutRecord(cmd.Context(), s.OwnerKey(subject.CategoryPlan), subject.CategoryPlan, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now on %s\n", s.UserID, tier)
			return nil
		},
	}

	plan.AddCommand(show, set)
	return plan
}
