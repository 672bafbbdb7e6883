package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "tracelens",
	Short: "tracelens draws state-machine runs as highlighted graphs",
	Long: `tracelens lays out an application's actions and transitions as a graph and
highlights the execution path of a run as you scrub, hover or replay its steps.

Configuration is read from ~/.tracelens/settings.json and TRACELENS_* env vars.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().String("direction", "", "Layout direction (TB, LR)")
}

// commandConfig loads the layered config and applies persistent flags on top.
func commandConfig(cmd *cobra.Command) Config {
	cfg := loadConfig()
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	if v, _ := cmd.Flags().GetString("direction"); v != "" {
		cfg.Layout.Direction = layout.ParseDirection(v)
	}
	return cfg
}

// newLogger builds the process logger on stderr. The returned LevelVar
// allows changing the level at runtime.
func newLogger(cfg Config) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	return logging.New(os.Stderr, level, cfg.LogFormat), level
}
