package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fgb-andu/hustl-entitlements/internal/billing"
	"github.com/fgb-andu/hustl-entitlements/internal/billing/snapshot"
	"github.com/fgb-andu/hustl-entitlements/internal/config"
	"github.com/fgb-andu/hustl-entitlements/internal/gateway/rest"
	"github.com/fgb-andu/hustl-entitlements/internal/logging"
	"github.com/fgb-andu/hustl-entitlements/internal/mockgateway"
	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const commandTimeout = 30 * time.Second

var (
	flagUser         string
	flagForceRefresh bool
)

var rootCmd = &cobra.Command{
	Use:          "hustl-entitlements",
	Short:        "Hustl entitlement and purchase lifecycle tool",
	Long:         `Inspect offerings, ownership, and purchases against the hustl billing backend (or the built-in mock backend with HUSTL_MOCK_MODE=true).`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "user id to bind before running the command (default: anonymous)")
	rootCmd.PersistentFlags().BoolVar(&flagForceRefresh, "force-refresh", false, "bypass caches and hit the backend")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(offeringsCmd)
	rootCmd.AddCommand(purchaseCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hustl-entitlements %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show premium status and task credit balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *billing.Manager) error {
			rec, err := m.GetOwnership(ctx, flagForceRefresh)
			if err != nil {
				return err
			}

			now := time.Now()
			if rec.PremiumActive(now) {
				line := "Premium: active"
				if s, ok := rec.Entitlements[entitlement.EntitlementPremium]; ok && s.ExpiresAt != nil {
					line += " (expires " + s.ExpiresAt.Local().Format(time.RFC1123) + ")"
				}
				fmt.Println(line)
			} else {
				fmt.Println("Premium: inactive")
			}
			fmt.Printf("Task credits: %d\n", rec.CreditBalance())
			return nil
		})
	},
}

var offeringsCmd = &cobra.Command{
	Use:   "offerings",
	Short: "List purchasable offerings and packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *billing.Manager) error {
			offerings, err := m.ListOfferings(ctx, flagForceRefresh)
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(offerings.All))
			for id := range offerings.All {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				off := offerings.All[id]
				marker := ""
				if id == offerings.CurrentID {
					marker = " (current)"
				}
				fmt.Printf("%s%s\n", off.ID, marker)
				for _, p := range off.Packages {
					fmt.Printf("  %-14s %-28s %s\n", p.ID, p.Product.Title, formatPrice(p.Product))
				}
			}
			return nil
		})
	},
}

var purchaseCmd = &cobra.Command{
	Use:   "purchase <package-id>",
	Short: "Purchase one package from the current offering",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *billing.Manager) error {
			offerings, err := m.ListOfferings(ctx, flagForceRefresh)
			if err != nil {
				return err
			}
			pkg, ok := findPackage(offerings, args[0])
			if !ok {
				return fmt.Errorf("package %q not found in the catalog", args[0])
			}

			outcome, err := m.Purchase(ctx, pkg)
			if err != nil {
				return err
			}

			switch outcome.Status {
			case entitlement.StatusSucceeded:
				fmt.Printf("Purchased %s.\n", pkg.Product.Title)
			case entitlement.StatusAlreadyOwned:
				fmt.Printf("Already owned: %s.\n", pkg.Product.Title)
			case entitlement.StatusCancelled:
				fmt.Println("Purchase cancelled.")
			default:
				return fmt.Errorf("purchase failed (%s)", outcome.ErrorKind)
			}
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore ownership from the backend's source of truth",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *billing.Manager) error {
			rec, err := m.Restore(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Restored %d entitlement(s).\n", len(rec.Entitlements))
			return nil
		})
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withManager does the full startup and teardown around one command: load
// configuration, initialize logging, pick the gateway, open the snapshot
// store, build the manager, and bind the requested identity.
func withManager(fn func(context.Context, *billing.Manager) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "cli",
	})

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var gw entitlement.Gateway
	if cfg.MockMode {
		log.Debug().Msg("Using mock billing gateway")
		gw = mockgateway.New()
	} else {
		gw = rest.New(cfg.GatewayURL)
	}

	snapshots, err := snapshot.Open(cfg.SnapshotPath())
	if err != nil {
		// Snapshots only serve the degraded-read path; run without them.
		log.Warn().Err(err).Str("path", cfg.SnapshotPath()).Msg("Failed to open snapshot store, continuing without persistence")
		snapshots = nil
	} else {
		defer snapshots.Close()
	}

	manager, err := billing.New(ctx, billing.Config{
		Gateway:       gw,
		APIKey:        cfg.APIKey,
		Snapshots:     snapshots,
		CatalogMaxAge: cfg.CatalogMaxAge,
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	if user := strings.TrimSpace(flagUser); user != "" {
		if err := manager.BindIdentity(ctx, user); err != nil {
			return err
		}
	}

	return fn(ctx, manager)
}

func findPackage(offerings entitlement.Offerings, packageID string) (entitlement.Package, bool) {
	if current, ok := offerings.Current(); ok {
		for _, p := range current.Packages {
			if p.ID == packageID {
				return p, true
			}
		}
	}
	for _, off := range offerings.All {
		for _, p := range off.Packages {
			if p.ID == packageID {
				return p, true
			}
		}
	}
	return entitlement.Package{}, false
}

func formatPrice(p entitlement.Product) string {
	price := fmt.Sprintf("%.2f %s", float64(p.AmountCents)/100, p.Currency)
	switch p.Period {
	case entitlement.PeriodMonthly:
		return price + "/month"
	case entitlement.PeriodYearly:
		return price + "/year"
	default:
		return price
	}
}
