// Package cmd implements the loopmux CLI: run, validate, and init.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/loopmux/internal/mux"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// Global flags.
var flagMux string

var rootCmd = &cobra.Command{
	Use:   "loopmux",
	Short: "Loop prompts into tmux panes with triggers and delays",
	Long: `loopmux repeatedly injects prompt text into a terminal multiplexer pane,
captures the pane's output, and decides what to send next from a
declarative rule set: each rule pairs a match pattern with an action and
a pointer to the rule that governs the following cycle.

Typical use: driving a long-running coding agent through build/test/fix
iterations without watching the pane.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagMux, "mux", os.Getenv("LOOPMUX_MUX"),
		"terminal multiplexer: tmux, zellij (default: auto-detect)")
}

// getMultiplexer returns the configured or auto-detected multiplexer.
func getMultiplexer() (mux.Multiplexer, error) {
	if flagMux != "" {
		return mux.FromName(flagMux)
	}
	return mux.Detect()
}
