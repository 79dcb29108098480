package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/loopmux/internal/config"
)

var flagInitOutput string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Print a starter YAML config to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagInitOutput == "" {
			fmt.Fprint(cmd.OutOrStdout(), config.Template)
			return nil
		}
		if err := os.WriteFile(flagInitOutput, []byte(config.Template), 0o644); err != nil {
			return fmt.Errorf("failed to write template to %s: %w", flagInitOutput, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote template to %s\n", flagInitOutput)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVarP(&flagInitOutput, "output", "o", "", "path to write the YAML config file (default: stdout)")
	rootCmd.AddCommand(initCmd)
}
