package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timvw/loopmux/internal/config"
	"github.com/timvw/loopmux/internal/mux"
)

var (
	flagValConfig     string
	flagValTarget     string
	flagValIterations int
	flagValSkipTmux   bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration without sending anything",
	Long: `Load and validate a configuration document, then print the resolved
plan. With --skip-tmux the target is only checked for shape, not for
existence on a running multiplexer. Nothing is ever sent to the pane.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagValConfig == "" {
			return fmt.Errorf("--config is required")
		}
		doc, err := config.Load(flagValConfig)
		if err != nil {
			return err
		}

		resolved, err := config.Resolve(doc, config.Overrides{
			Target:     flagValTarget,
			Iterations: flagValIterations,
		})
		if err != nil {
			return err
		}

		if !flagValSkipTmux {
			m, err := getMultiplexer()
			if err != nil {
				return err
			}
			if err := checkTarget(cmd.Context(), m, resolved); err != nil {
				return err
			}
		}

		printValidation(resolved, false)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&flagValConfig, "config", "c", "", "path to the YAML config file")
	validateCmd.Flags().StringVarP(&flagValTarget, "target", "t", "", "tmux target (session:window.pane), overrides config")
	validateCmd.Flags().IntVarP(&flagValIterations, "iterations", "n", 0, "iterations to run, overrides config")
	validateCmd.Flags().BoolVar(&flagValSkipTmux, "skip-tmux", false, "validate config without checking the tmux target")
	rootCmd.AddCommand(validateCmd)
}

// checkTarget verifies the resolved target exists on the live multiplexer.
func checkTarget(ctx context.Context, m mux.Multiplexer, resolved *config.Resolved) error {
	ctx, cancel := context.WithTimeout(ctx, resolved.Timeout)
	defer cancel()
	ok, err := m.HasTarget(ctx, resolved.Target)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s target not found: %s", m.Name(), resolved.Target)
	}
	return nil
}
