package mux

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Tmux implements the Multiplexer interface for tmux.
type Tmux struct{}

// NewTmux creates a new tmux multiplexer.
func NewTmux() *Tmux {
	return &Tmux{}
}

// Name returns "tmux".
func (t *Tmux) Name() string {
	return "tmux"
}

// Send types one line into a tmux pane. The line is sent in literal mode
// (-l) so regex metacharacters and key names in the prompt text are not
// interpreted by tmux, then a raw Enter submits it.
func (t *Tmux) Send(ctx context.Context, target, line string) error {
	if _, err := t.run(ctx, "send-keys", "-t", target, "-l", line); err != nil {
		return fmt.Errorf("tmux send-keys -t %s: %w", target, err)
	}
	if _, err := t.run(ctx, "send-keys", "-t", target, "Enter"); err != nil {
		return fmt.Errorf("tmux send-keys -t %s Enter: %w", target, err)
	}
	return nil
}

// Capture captures the last tail lines of a tmux pane.
// Uses -p (stdout) and -J (joined, unwraps lines).
func (t *Tmux) Capture(ctx context.Context, target string, tail int) (string, error) {
	out, err := t.run(ctx, "capture-pane", "-t", target, "-p", "-J", "-S", fmt.Sprintf("-%d", tail))
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane -t %s: %w", target, err)
	}
	return out, nil
}

// HasTarget reports whether the target pane exists on the tmux server.
func (t *Tmux) HasTarget(ctx context.Context, target string) (bool, error) {
	out, err := t.run(ctx, "list-panes", "-a", "-F", "#{session_name}:#{window_index}.#{pane_index}")
	if err != nil {
		return false, fmt.Errorf("tmux list-panes: %w", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.TrimSpace(line) == target {
			return true, nil
		}
	}
	return false, nil
}

// run executes a tmux command and returns its stdout.
func (t *Tmux) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("%w: %s", err, string(exitErr.Stderr))
		}
		return "", err
	}
	return string(out), nil
}

// Target is a parsed tmux pane address. Window and Pane keep their raw
// text: tmux resolves indexes and names alike, so no numeric shape is
// imposed here.
type Target struct {
	Raw     string
	Session string
	Window  string
	Pane    string
}

// ParseTarget parses a tmux target string "session:window.pane". The
// session may itself contain colons; the last ':' and the last '.'
// delimit the address.
func ParseTarget(target string) (Target, error) {
	colonIdx := strings.LastIndex(target, ":")
	if colonIdx < 0 {
		return Target{}, fmt.Errorf("invalid target %q: want session:window.pane", target)
	}

	session := target[:colonIdx]
	rest := target[colonIdx+1:]

	dotIdx := strings.LastIndex(rest, ".")
	if dotIdx < 0 {
		return Target{}, fmt.Errorf("invalid target %q: want session:window.pane", target)
	}

	window := rest[:dotIdx]
	pane := rest[dotIdx+1:]
	if strings.TrimSpace(session) == "" || strings.TrimSpace(window) == "" || strings.TrimSpace(pane) == "" {
		return Target{}, fmt.Errorf("invalid target %q: want session:window.pane", target)
	}

	return Target{
		Raw:     target,
		Session: session,
		Window:  window,
		Pane:    pane,
	}, nil
}
