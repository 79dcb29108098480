package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/loopmux/internal/config"
	"github.com/timvw/loopmux/internal/events"
	"github.com/timvw/loopmux/internal/mux"
	lmotel "github.com/timvw/loopmux/internal/otel"
)

var tracer = otel.Tracer("loopmux")

// Stop reasons reported on a finished run.
const (
	StopCompleted = "completed"
	StopRule      = "stop rule"
	StopOnce      = "once"
	StopCancelled = "cancelled"
)

// defaultRetryBackoff spaces retries when the retry block omits its own
// schedule.
var defaultRetryBackoff = &config.BackoffPolicy{
	Base:   time.Second,
	Factor: 2,
	Max:    30 * time.Second,
}

// retryKey partitions the sampler's backoff state for cycle retries,
// away from any rule named in the document (rule ids validated at
// resolve time never collide with it — it is not a valid next pointer
// the engine ever samples for).
const retryKey = "\x00retry"

// Controller is the loop state machine. It owns all mutable run state
// (iteration count, active pointer) and executes cycles strictly one at
// a time: the pane is a single shared resource and overlapping sends or
// captures would race on its content.
type Controller struct {
	cfg     *config.Resolved
	exec    *Executor
	matcher *Matcher
	sampler *Sampler
	log     *events.Logger
	metrics *lmotel.Metrics
}

// Report summarizes a finished run.
type Report struct {
	Iterations int
	Sends      int
	Retries    int
	Matches    map[string]int
	StartedAt  time.Time
	EndedAt    time.Time
	StopReason string
}

// New wires a controller. metrics may be nil (telemetry disabled).
func New(cfg *config.Resolved, m mux.Multiplexer, log *events.Logger, metrics *lmotel.Metrics) *Controller {
	return &Controller{
		cfg: cfg,
		exec: &Executor{
			Mux:     m,
			Target:  cfg.Target,
			Timeout: cfg.Timeout,
		},
		matcher: NewMatcher(cfg),
		sampler: NewSampler(),
		log:     log,
		metrics: metrics,
	}
}

// Run executes cycles until the iteration budget is exhausted, a stop
// rule fires, once mode completes, the context is cancelled, or an I/O
// failure outlives the retry budget. The report is valid in every case.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Matches:   make(map[string]int),
		StartedAt: time.Now().UTC(),
	}
	c.log.Started(c.cfg.Infinite, c.cfg.Iterations)

	active := UseDefault
	stop := ""

	for stop == "" {
		if !c.cfg.Infinite && report.Iterations >= c.cfg.Iterations {
			stop = StopCompleted
			break
		}
		if err := ctx.Err(); err != nil {
			report.EndedAt = time.Now().UTC()
			report.StopReason = StopCancelled
			c.log.Stopped(StopCancelled, report.Iterations)
			return report, err
		}

		stopArmed, err := c.cycleWithRetry(ctx, report, &active)
		if err != nil {
			report.EndedAt = time.Now().UTC()
			if ctx.Err() != nil {
				report.StopReason = StopCancelled
				c.log.Stopped(StopCancelled, report.Iterations)
				return report, err
			}
			report.StopReason = "error"
			c.log.Error(err)
			return report, err
		}

		report.Iterations++
		c.metrics.RecordCycle(ctx)

		if stopArmed {
			stop = StopRule
		} else if c.cfg.Once {
			stop = StopOnce
		}
	}

	report.EndedAt = time.Now().UTC()
	report.StopReason = stop
	c.log.Stopped(stop, report.Iterations)
	return report, nil
}

// cycleWithRetry runs one cycle, re-running it after recoverable I/O
// failures up to the retry budget. Retried attempts never consume the
// iteration budget; every retry is logged as a warning.
func (c *Controller) cycleWithRetry(ctx context.Context, report *Report, active *int) (bool, error) {
	budget := c.cfg.Retry.Attempts
	backoff := c.cfg.Retry.Backoff
	if backoff == nil {
		backoff = defaultRetryBackoff
	}

	for attempt := 0; ; attempt++ {
		stopArmed, err := c.cycle(ctx, report, active)
		if err == nil {
			c.sampler.Reset(retryKey)
			return stopArmed, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if attempt >= budget {
			if ioErr, ok := err.(*IOError); ok {
				c.metrics.RecordFailure(ctx, ioErr.Op)
			}
			return false, &RunError{
				Iteration: report.Iterations,
				RuleID:    c.activeRuleID(*active),
				Err:       err,
			}
		}

		wait := c.sampler.Backoff(backoff, retryKey)
		c.log.Retry(report.Iterations, attempt+1, budget, wait, err)
		c.metrics.RecordRetry(ctx)
		report.Retries++
		if err := Wait(ctx, wait); err != nil {
			return false, err
		}
	}
}

// cycle is one full send -> capture -> match -> advance -> delay pass.
// Returns whether a stop rule armed termination.
func (c *Controller) cycle(ctx context.Context, report *Report, active *int) (bool, error) {
	ctx, span := tracer.Start(ctx, "cycle",
		trace.WithAttributes(
			attribute.Int("loop.iteration", report.Iterations),
			attribute.String("loop.rule", c.activeRuleID(*active)),
		))
	defer span.End()

	// 1. Determine the governing action: the active rule's own action,
	// or the default action for an unset pointer and rules without one.
	action := &c.cfg.DefaultAction
	ruleID := ""
	if *active != UseDefault {
		rule := &c.cfg.Rules[*active]
		ruleID = rule.ID
		if rule.Action != nil {
			action = rule.Action
		}
	}

	// 2. Send.
	lines, err := c.exec.Execute(ctx, action)
	report.Sends += lines
	c.metrics.RecordSends(ctx, lines)
	if err != nil {
		return false, err
	}
	c.log.Sent(report.Iterations, ruleID, lines)

	// 3. Capture.
	captured, err := c.exec.Capture(ctx, c.cfg.Tail)
	if err != nil {
		return false, err
	}

	// 4. Match.
	sel := c.matcher.Select(captured, *active)

	// 5. Advance the active pointer.
	stopArmed := false
	var delay *config.DelayPolicy = c.cfg.Delay
	delayKey := "\x00default"
	if sel.IsDefault() {
		*active = UseDefault
	} else {
		matched := &c.cfg.Rules[sel.Index]
		report.Matches[matched.ID]++
		c.log.Matched(report.Iterations, matched.ID, matched.Next)
		c.metrics.RecordMatch(ctx, matched.ID)
		span.SetAttributes(attribute.String("loop.matched", matched.ID))

		switch matched.Next {
		case "":
			*active = UseDefault
		case config.NextStop:
			*active = UseDefault
			stopArmed = true
		default:
			*active = matched.NextIndex
		}

		if matched.Delay != nil {
			delay = matched.Delay
			delayKey = matched.ID
		}
	}

	// 6. Delay.
	wait := c.sampler.Sample(delay, delayKey)
	c.log.Delay(report.Iterations, wait)
	if err := Wait(ctx, wait); err != nil {
		return false, err
	}

	return stopArmed, nil
}

func (c *Controller) activeRuleID(active int) string {
	if active == UseDefault {
		return ""
	}
	return c.cfg.Rules[active].ID
}
