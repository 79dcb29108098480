package engine

import (
	"context"
	"errors"
	"time"

	"github.com/timvw/loopmux/internal/config"
	"github.com/timvw/loopmux/internal/mux"
)

// Executor delivers actions to a single pane target, one send per line,
// with a bounded wait on every call so a hung multiplexer cannot hang
// the run silently.
type Executor struct {
	Mux     mux.Multiplexer
	Target  string
	Timeout time.Duration
}

// Execute sends the pre, prompt, and post blocks in order, each block
// one send per line. The first failed send aborts the remaining stages;
// partial delivery is reported to the caller, never retried here.
// Returns the number of lines delivered.
func (e *Executor) Execute(ctx context.Context, action *config.Action) (int, error) {
	sent := 0
	for _, block := range []*config.PromptBlock{action.Pre, action.Prompt, action.Post} {
		if block == nil {
			continue
		}
		for _, line := range block.Lines {
			if err := e.send(ctx, line); err != nil {
				return sent, err
			}
			sent++
		}
	}
	return sent, nil
}

// Capture returns the pane's current visible tail.
func (e *Executor) Capture(ctx context.Context, tail int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()
	out, err := e.Mux.Capture(ctx, e.Target, tail)
	if err != nil {
		return "", &IOError{
			Op:      "capture",
			Target:  e.Target,
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Err:     err,
		}
	}
	return out, nil
}

func (e *Executor) send(ctx context.Context, line string) error {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()
	if err := e.Mux.Send(ctx, e.Target, line); err != nil {
		return &IOError{
			Op:      "send",
			Target:  e.Target,
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Err:     err,
		}
	}
	return nil
}
