// Package engine runs the rule-driven prompt loop against a multiplexer
// pane: send the governing action, capture the pane, match the capture
// against the rule table, advance the active pointer, wait, repeat.
package engine

import "fmt"

// IOError is a failed pane operation. Timeout distinguishes a bounded
// wait expiring from the multiplexer rejecting the call outright.
type IOError struct {
	Op      string // "send" or "capture"
	Target  string
	Timeout bool
	Err     error
}

func (e *IOError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: timed out: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// RunError wraps a fatal mid-run failure with enough context to say
// where the loop stopped.
type RunError struct {
	Iteration int
	RuleID    string // empty when the default action was governing
	Err       error
}

func (e *RunError) Error() string {
	rule := e.RuleID
	if rule == "" {
		rule = "<default>"
	}
	return fmt.Sprintf("iteration %d (rule %s): %v", e.Iteration, rule, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
