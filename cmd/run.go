package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/timvw/loopmux/internal/config"
	"github.com/timvw/loopmux/internal/engine"
	"github.com/timvw/loopmux/internal/events"
	lmotel "github.com/timvw/loopmux/internal/otel"
)

var (
	flagRunConfig     string
	flagRunTarget     string
	flagRunIterations int
	flagRunPrompt     string
	flagRunTrigger    string
	flagRunExclude    string
	flagRunPre        string
	flagRunPost       string
	flagRunTail       int
	flagRunOnce       bool
	flagRunDryRun     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a loop against a tmux target",
	Long: `Run the prompt loop against a multiplexer target.

The loop is configured either by a YAML document (--config) or inline:
--prompt plus --trigger define a single-rule configuration without a
file. Inline mode:

  loopmux run -t ai:5.0 -n 5 --prompt "Do the next iteration." --trigger "Concluded|What is next" --once
  loopmux run -t ai:5.0 -n 5 --prompt "Do the next iteration." --trigger "Concluded|What is next" --exclude "PROD"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := runDocument()
		if err != nil {
			return err
		}

		resolved, err := config.Resolve(doc, config.Overrides{
			Target:     flagRunTarget,
			Iterations: flagRunIterations,
			Tail:       flagRunTail,
			Once:       flagRunOnce,
		})
		if err != nil {
			return err
		}

		if flagRunDryRun {
			printValidation(resolved, true)
			return nil
		}

		return runLoop(cmd.Context(), resolved)
	},
}

func init() {
	runCmd.Flags().StringVarP(&flagRunConfig, "config", "c", "", "path to the YAML config file")
	runCmd.Flags().StringVarP(&flagRunTarget, "target", "t", "", "tmux target (session:window.pane), overrides config")
	runCmd.Flags().IntVarP(&flagRunIterations, "iterations", "n", 0, "iterations to run, overrides config")
	runCmd.Flags().StringVar(&flagRunPrompt, "prompt", "", "inline prompt (mutually exclusive with --config)")
	runCmd.Flags().StringVar(&flagRunTrigger, "trigger", "", "inline trigger regex (requires --prompt)")
	runCmd.Flags().StringVar(&flagRunExclude, "exclude", "", "inline exclude regex (requires --prompt)")
	runCmd.Flags().StringVar(&flagRunPre, "pre", "", "optional pre block for inline prompt")
	runCmd.Flags().StringVar(&flagRunPost, "post", "", "optional post block for inline prompt")
	runCmd.Flags().IntVar(&flagRunTail, "tail", 0, "tail lines from the pane capture (default 200)")
	runCmd.Flags().BoolVar(&flagRunOnce, "once", false, "run a single send and exit")
	runCmd.Flags().BoolVar(&flagRunDryRun, "dry-run", false, "validate config and print the plan without sending")
	runCmd.MarkFlagsMutuallyExclusive("config", "prompt")
	rootCmd.AddCommand(runCmd)
}

// runDocument loads the config file or builds an inline single-rule
// document from the --prompt/--trigger flags.
func runDocument() (*config.Config, error) {
	if flagRunConfig != "" {
		return config.Load(flagRunConfig)
	}
	if flagRunPrompt == "" {
		return nil, fmt.Errorf("--config or --prompt is required")
	}
	if flagRunTrigger == "" {
		return nil, fmt.Errorf("--trigger is required when using --prompt")
	}

	// Inline documents default to infinite; -n and --once bound the run.
	doc := &config.Config{
		Infinite: true,
		RuleEval: config.EvalFirstMatch,
		DefaultAction: &config.Action{
			Prompt: &config.PromptBlock{Lines: []string{flagRunPrompt}},
		},
		Rules: []config.RuleConfig{
			{
				ID:    "inline",
				Match: &config.MatchCriteria{Regex: flagRunTrigger},
			},
		},
	}
	if flagRunPre != "" {
		doc.DefaultAction.Pre = &config.PromptBlock{Lines: []string{flagRunPre}}
	}
	if flagRunPost != "" {
		doc.DefaultAction.Post = &config.PromptBlock{Lines: []string{flagRunPost}}
	}
	if flagRunExclude != "" {
		doc.Rules[0].Exclude = &config.MatchCriteria{Regex: flagRunExclude}
	}
	return doc, nil
}

func runLoop(parent context.Context, resolved *config.Resolved) error {
	ctx, stopSignals := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	m, err := getMultiplexer()
	if err != nil {
		return err
	}
	if err := checkTarget(ctx, m, resolved); err != nil {
		return err
	}

	lmotel.Version = Version
	tel, err := lmotel.Init(ctx, lmotel.Config{
		Endpoint: resolved.OTELEndpoint,
		Headers:  resolved.OTELHeaders,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: otel init failed: %v\n", err)
	}
	defer tel.Shutdown(context.Background())

	runID := uuid.NewString()
	log, err := events.NewLogger(resolved.Logging, resolved.Target, runID)
	if err != nil {
		return err
	}
	defer log.Close()

	printStart(resolved)

	var metrics *lmotel.Metrics
	if tel != nil {
		metrics = tel.Metrics
	}
	report, err := engine.New(resolved, m, log, metrics).Run(ctx)
	printSummary(resolved, report)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
