// Package events emits the structured run log: one event per loop
// occurrence (started, sent, matched, delay, retry, stopped, error).
//
// The logging config block selects the destination (a file, or stderr
// when no path is set) and the format: "text" renders through zerolog's
// console writer, "jsonl" writes one JSON object per line.
package events

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/timvw/loopmux/internal/config"
)

// Logger writes run events. Safe to share across the run; the engine is
// single-threaded so no locking is layered on top of zerolog's own.
type Logger struct {
	zl   zerolog.Logger
	file *os.File
}

// NewLogger opens the configured destination and attaches the run-wide
// fields (target, run id) to every event.
func NewLogger(cfg config.LogSettings, target, runID string) (*Logger, error) {
	var out io.Writer = os.Stderr
	var file *os.File
	if cfg.Path != "" {
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", cfg.Path, err)
		}
		out = f
		file = f
	}

	if cfg.Format == "text" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    file != nil,
		}
	}

	zl := zerolog.New(out).With().
		Timestamp().
		Str("target", target).
		Str("run_id", runID).
		Logger()

	return &Logger{zl: zl, file: file}, nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Started records the beginning of a run.
func (l *Logger) Started(infinite bool, iterations int) {
	ev := l.zl.Info().Str("event", "started")
	if infinite {
		ev.Str("iterations", "infinite")
	} else {
		ev.Int("iterations", iterations)
	}
	ev.Msg("run started")
}

// Sent records one delivered action.
func (l *Logger) Sent(iteration int, ruleID string, lines int) {
	l.zl.Info().
		Str("event", "sent").
		Int("iteration", iteration).
		Str("rule", orDefault(ruleID)).
		Int("lines", lines).
		Msg("action sent")
}

// Matched records a rule selection.
func (l *Logger) Matched(iteration int, ruleID, next string) {
	l.zl.Info().
		Str("event", "matched").
		Int("iteration", iteration).
		Str("rule", ruleID).
		Str("next", orDefault(next)).
		Msg("rule matched")
}

// Delay records the wait applied after a cycle.
func (l *Logger) Delay(iteration int, d time.Duration) {
	l.zl.Debug().
		Str("event", "delay").
		Int("iteration", iteration).
		Dur("wait", d).
		Msg("delay scheduled")
}

// Retry records a recoverable cycle failure.
func (l *Logger) Retry(iteration, attempt, budget int, wait time.Duration, err error) {
	l.zl.Warn().
		Str("event", "retry").
		Int("iteration", iteration).
		Int("attempt", attempt).
		Int("budget", budget).
		Dur("wait", wait).
		Err(err).
		Msg("cycle failed, retrying")
}

// Stopped records the end of a run.
func (l *Logger) Stopped(reason string, iterations int) {
	l.zl.Info().
		Str("event", "stopped").
		Str("reason", reason).
		Int("iterations", iterations).
		Msg("run stopped")
}

// Error records a fatal run failure.
func (l *Logger) Error(err error) {
	l.zl.Error().
		Str("event", "error").
		Err(err).
		Msg("run failed")
}

func orDefault(ruleID string) string {
	if ruleID == "" {
		return "<default>"
	}
	return ruleID
}
