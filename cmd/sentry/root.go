package main

import (
	"context"

	"github.com/spf13/cobra"

	"datasentry-hq/sentry/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sentry",
	Short: "Sentry - policy-driven content screening",
	Long: `Sentry screens text against content policies bound to an agent and scene.

Each call resolves a policy snapshot (with optional gray rollout), runs the
detection tiers, and returns a verdict:
  - L1 regex rules and built-in patterns
  - L2 heuristic scoring
  - L3 structured extraction by an LLM, with FAST, BALANCED or ROBUST fallback

Every finished call is written to the audit store and emitted as a verdict
event.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command under a context canceled by SIGINT or
// SIGTERM.
func Execute() error {
	ctx, stop := cli.NotifyContext(context.Background())
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
