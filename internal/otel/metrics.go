package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "loopmux"

// Metrics holds all OTEL metric instruments for the loop engine.
// All counters are cumulative (monotonic). Every Record helper is
// nil-safe so the engine can run without telemetry wired.
type Metrics struct {
	// Loop counters
	Cycles metric.Int64Counter
	Sends  metric.Int64Counter

	// Rule matching (partitioned by rule id via attributes)
	Matches metric.Int64Counter

	// Failure handling
	Retries  metric.Int64Counter
	Failures metric.Int64Counter
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Cycles, err = meter.Int64Counter("loop.cycles",
		metric.WithDescription("Completed loop cycles (send + capture + match + delay)"))
	if err != nil {
		return nil, err
	}

	m.Sends, err = meter.Int64Counter("loop.sends",
		metric.WithDescription("Prompt lines delivered to the pane"),
		metric.WithUnit("{line}"))
	if err != nil {
		return nil, err
	}

	m.Matches, err = meter.Int64Counter("loop.matches",
		metric.WithDescription("Rule selections partitioned by rule id"))
	if err != nil {
		return nil, err
	}

	m.Retries, err = meter.Int64Counter("loop.retries",
		metric.WithDescription("Recoverable cycle failures that were retried"))
	if err != nil {
		return nil, err
	}

	m.Failures, err = meter.Int64Counter("loop.failures",
		metric.WithDescription("Fatal failures partitioned by pane operation (send, capture)"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCycle records one completed cycle.
func (m *Metrics) RecordCycle(ctx context.Context) {
	if m == nil {
		return
	}
	m.Cycles.Add(ctx, 1)
}

// RecordSends records delivered prompt lines.
func (m *Metrics) RecordSends(ctx context.Context, lines int) {
	if m == nil {
		return
	}
	m.Sends.Add(ctx, int64(lines))
}

// RecordMatch records a rule selection.
func (m *Metrics) RecordMatch(ctx context.Context, ruleID string) {
	if m == nil {
		return
	}
	m.Matches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule.id", ruleID),
	))
}

// RecordRetry records a retried cycle failure.
func (m *Metrics) RecordRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.Retries.Add(ctx, 1)
}

// RecordFailure records a fatal pane operation failure.
func (m *Metrics) RecordFailure(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.Failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pane.op", op),
	))
}
