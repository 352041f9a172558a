// Package main is the entry point for the LP rewards agent: it follows hook liquidity
// events on every configured chain, prices each provider's share of the treasury and
// settles reward claims cross-chain over CCTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourorg/lp-rewards-agent/internal/config"
	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/query"
)

// configPath is the optional YAML file given with --config or CONFIG_FILE
var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lp-rewards-agent",
		Short:         "LP reward accrual and cross-chain claim settlement agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.GetEnvOrDefault("CONFIG_FILE", ""), "Path to a YAML config file")

	root.AddCommand(newServeCmd(), newRewardsCmd(), newClaimsCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the listener, claim orchestrator and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newRewardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rewards",
		Short: "Print every provider's reward against the live treasury balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			a, err := newApp(ctx, cfg, appReadOnly)
			if err != nil {
				return err
			}
			defer a.Close()

			rewards, err := a.query.AllRewards(ctx)
			if err != nil {
				return err
			}
			treasury, err := a.query.Treasury(ctx)
			if err != nil {
				return err
			}
			return printRewards(cmd, treasury, rewards)
		},
	}
}

func newClaimsCmd() *cobra.Command {
	var (
		status    string
		reconcile bool
	)
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "List stored claims by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			claims, err := store.ClaimsByStatus(ctx, model.ClaimStatus(status))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, c := range claims {
				if reconcile && !c.NeedsReconciliation {
					continue
				}
				if err := enc.Encode(query.NewClaimView(c)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(model.StatusPendingAttestation), "Claim status to list")
	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "Only show claims that need manual reconciliation")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printRewards(cmd *cobra.Command, treasury query.TreasuryView, rewards []query.RewardView) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Treasury %s on %s: %s USDC (claimed %s USDC, %d active providers)\n\n",
		treasury.Address, treasury.Chain, treasury.BalanceUSDC, treasury.TotalClaimedUSDC, treasury.ActiveProviders)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tTOTAL\tCLAIMED\tPENDING\tPENDING USDC")
	for _, r := range rewards {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Address, r.Total, r.Claimed, r.Pending, r.PendingUSDC)
	}
	return tw.Flush()
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// runServe starts every component and blocks until SIGINT or SIGTERM
func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appServe)
	if err != nil {
		return err
	}
	defer a.Close()

	resumed, err := a.orchestrator.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume claims: %w", err)
	}
	if resumed > 0 {
		logrus.Infof("Resumed %d in-flight claims", resumed)
	}

	a.listener.Start(ctx)

	server := NewServer(ServerConfig{
		Port:           cfg.Port,
		RequestTimeout: cfg.RequestTimeout,
		ClaimWait:      cfg.ClaimResponseWait,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, a.query, a.orchestrator, a.breaker)

	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logrus.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logrus.Info("Server stopped")
	return nil
}

// setupLogging configures the logging for the application
func setupLogging(level, format string) {
	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch strings.ToLower(level) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
