package mux

import (
	"fmt"
	"os"
	"os/exec"
)

// Detect picks the multiplexer for the current environment: the one the
// process is running inside (via $TMUX / $ZELLIJ), else a reachable tmux
// server.
func Detect() (Multiplexer, error) {
	if os.Getenv("TMUX") != "" {
		return NewTmux(), nil
	}
	if os.Getenv("ZELLIJ") != "" {
		return FromName("zellij")
	}
	if serverRunning() {
		return NewTmux(), nil
	}
	return nil, fmt.Errorf("no terminal multiplexer detected; start tmux or pass --mux")
}

// serverRunning reports whether a tmux binary exists and its server
// answers. Listing sessions is the cheapest probe that requires a live
// server.
func serverRunning() bool {
	if _, err := exec.LookPath("tmux"); err != nil {
		return false
	}
	return exec.Command("tmux", "list-sessions").Run() == nil
}

// FromName returns the multiplexer selected by the --mux flag.
func FromName(name string) (Multiplexer, error) {
	switch name {
	case "tmux":
		return NewTmux(), nil
	case "zellij":
		return nil, fmt.Errorf("zellij support is not yet implemented")
	default:
		return nil, fmt.Errorf("unknown multiplexer: %q (supported: tmux)", name)
	}
}
