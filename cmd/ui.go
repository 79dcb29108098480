package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/timvw/loopmux/internal/config"
	"github.com/timvw/loopmux/internal/engine"
)

var (
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7fd88f")).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f5a742"))
	styleMuted = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	styleLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("#56b6c2"))
)

// printValidation renders the resolved plan for validate and dry runs.
func printValidation(cfg *config.Resolved, dryRun bool) {
	fmt.Println(styleOK.Render("Validation OK"))
	row("target", cfg.Target)
	if cfg.Infinite {
		row("iterations", "infinite")
	} else {
		row("iterations", fmt.Sprintf("%d", cfg.Iterations))
	}
	row("rule_eval", cfg.Eval)
	if cfg.Scope != config.ScopeGlobal {
		row("match_scope", cfg.Scope)
	}
	row("rules", fmt.Sprintf("%d", len(cfg.Rules)))
	if cfg.Delay != nil {
		row("delay", delaySummary(cfg.Delay))
	}
	if cfg.Retry.Attempts > 0 {
		row("retry", fmt.Sprintf("%d attempts", cfg.Retry.Attempts))
	}
	if cfg.Logging.Path != "" {
		row("logging", fmt.Sprintf("%s (%s)", cfg.Logging.Path, cfg.Logging.Format))
	} else {
		row("logging", fmt.Sprintf("stderr (%s)", cfg.Logging.Format))
	}
	row("tail", fmt.Sprintf("%d", cfg.Tail))
	if cfg.Once {
		row("once", "yes")
	}
	if dryRun {
		fmt.Println(styleMuted.Render("- note: dry-run only, nothing sent to the pane"))
	}
}

func row(label, value string) {
	fmt.Printf("- %s: %s\n", styleLabel.Render(label), value)
}

func printStart(cfg *config.Resolved) {
	fmt.Fprintf(os.Stderr, "loopmux: running on %s\n", cfg.Target)
	if cfg.Infinite {
		fmt.Fprintln(os.Stderr, "loopmux: iterations = infinite")
	} else {
		fmt.Fprintf(os.Stderr, "loopmux: iterations = %d\n", cfg.Iterations)
	}
}

// printSummary renders the end-of-run status line.
func printSummary(cfg *config.Resolved, report *engine.Report) {
	if report == nil {
		return
	}
	progress := fmt.Sprintf("%d", report.Iterations)
	if !cfg.Infinite {
		progress = fmt.Sprintf("%d/%d", report.Iterations, cfg.Iterations)
	}
	line := fmt.Sprintf("%s target=%s iterations=%s sends=%d elapsed=%s",
		styleOK.Render("> stopped:")+" "+report.StopReason,
		cfg.Target, progress, report.Sends,
		formatElapsed(report.StartedAt, report.EndedAt))
	if report.Retries > 0 {
		line += " " + styleWarn.Render(fmt.Sprintf("retries=%d", report.Retries))
	}
	fmt.Fprintln(os.Stderr, line)
}

// formatElapsed renders a wall-clock span as 1h2m3s / 2m3s / 3s.
func formatElapsed(start, end time.Time) string {
	total := int(end.Sub(start).Seconds())
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func delaySummary(p *config.DelayPolicy) string {
	switch p.Mode {
	case config.DelayFixed:
		return fmt.Sprintf("fixed %s", p.Value)
	case config.DelayRange:
		return fmt.Sprintf("range %s-%s", p.Min, p.Max)
	case config.DelayJitter:
		return fmt.Sprintf("jitter %s-%s ±%.0f%%", p.Min, p.Max, p.Jitter*100)
	case config.DelayBackoff:
		if p.Backoff.Max > 0 {
			return fmt.Sprintf("backoff base %s x%g, max %s", p.Backoff.Base, p.Backoff.Factor, p.Backoff.Max)
		}
		return fmt.Sprintf("backoff base %s x%g", p.Backoff.Base, p.Backoff.Factor)
	}
	return p.Mode
}
