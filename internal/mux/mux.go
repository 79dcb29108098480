// Package mux provides an abstraction over terminal multiplexers (tmux,
// zellij).
//
// This package is pure transport: it sends text to a named target and
// captures the target's visible content without interpreting either.
// The engine decides what to send; the matcher decides what the capture
// means.
package mux

import "context"

// Multiplexer abstracts terminal multiplexer operations.
// Implementations exist for tmux and (future) zellij.
type Multiplexer interface {
	// Name returns the multiplexer name (e.g., "tmux", "zellij").
	Name() string

	// Send delivers one line of text to a target, submitting it as a
	// keyboard entry (the multiplexer equivalent of typing the line and
	// pressing Enter).
	Send(ctx context.Context, target, line string) error

	// Capture returns the last tail lines of a target's visible content.
	// The target format depends on the multiplexer (e.g.,
	// "session:window.pane" for tmux).
	Capture(ctx context.Context, target string, tail int) (string, error)

	// HasTarget reports whether the target currently exists.
	HasTarget(ctx context.Context, target string) (bool, error)
}
