// Package main provides the CLI entry point for opscore, an autonomous
// operations core: a long-running Manager agent that discovers work,
// decomposes it into tasks, dispatches them to a bounded pool of ephemeral
// Assistant agents, aggregates results, and rests on an interval,
// indefinitely, with support for mid-run user intervention.
//
// # Basic Usage
//
// Start a run in the foreground, exposing its control surface over HTTP:
//
//	opscore run --config opscore.yaml "keep the staging cluster healthy"
//
// Drive a running instance from another terminal:
//
//	opscore status
//	opscore approve
//	opscore inject "also rotate the expiring TLS certs"
//	opscore stop
//
// # Environment Variables
//
//   - OPSCORE_CONFIG: path to the configuration file (default: opscore.yaml)
//   - OPSCORE_ANTHROPIC_API_KEY: Anthropic API key for the Manager/Assistant gateway
//   - OPSCORE_OPENAI_API_KEY: OpenAI API key, when gateway.provider is "openai"
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "opscore",
		Short: "opscore - autonomous operations core",
		Long: `opscore runs a Manager agent that discovers work, plans how to address it,
dispatches tasks to a bounded pool of Assistant agents, and rests on an
interval between passes, indefinitely.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath(), "Path to YAML configuration file")
	rootCmd.PersistentFlags().String("addr", "", "Control-plane address of a running instance (default: http://<server.host>:<server.http_port> from config)")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildStatusCmd(),
		buildApproveCmd(),
		buildRejectCmd(),
		buildInjectCmd(),
		buildFollowUpCmd(),
		buildPauseCmd(),
		buildResumeCmd(),
		buildIntervalCmd(),
		buildPoolSizeCmd(),
		buildStopCmd(),
		buildResetCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if v := os.Getenv("OPSCORE_CONFIG"); v != "" {
		return v
	}
	return "opscore.yaml"
}

func resolveConfigPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return defaultConfigPath()
	}
	return path
}
