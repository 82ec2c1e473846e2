// Package main provides the ThreadPoint CLI application
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/threadpoint/threadpoint/pkg/threadpoint"
)

// Version information set during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "threadpoint",
	Short: "Checkpoint persistence for conversational threads",
	Long: `ThreadPoint stores, restores, and retires checkpoints of long-lived
conversation threads across memory, SQLite, file, and Postgres backends.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ThreadPoint %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
}

// openRuntime layers the configuration and wires a runtime over the
// configured backend. The caller owns the Close.
func openRuntime(ctx context.Context) (*threadpoint.Runtime, error) {
	cfg, err := threadpoint.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	rt, err := threadpoint.NewRuntimeFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open runtime: %w", err)
	}
	return rt, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
