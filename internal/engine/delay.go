package engine

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/timvw/loopmux/internal/config"
)

// Sampler turns delay policies into concrete wait durations. Sampling is
// pure except for consuming randomness and, for backoff policies, the
// per-key attempt counters.
type Sampler struct {
	attempts map[string]int
}

// NewSampler creates a sampler with empty backoff state.
func NewSampler() *Sampler {
	return &Sampler{attempts: make(map[string]int)}
}

// Sample computes one wait for the policy. key partitions backoff state
// (one attempt counter per rule).
func (s *Sampler) Sample(p *config.DelayPolicy, key string) time.Duration {
	if p == nil {
		return 0
	}
	switch p.Mode {
	case config.DelayFixed:
		return p.Value
	case config.DelayRange:
		return uniformBetween(p.Min, p.Max)
	case config.DelayJitter:
		base := uniformBetween(p.Min, p.Max)
		spread := time.Duration(float64(base) * p.Jitter)
		lo := base - spread
		if lo < 0 {
			lo = 0
		}
		return uniformBetween(lo, base+spread)
	case config.DelayBackoff:
		return s.Backoff(p.Backoff, key)
	}
	return 0
}

// Backoff returns the next wait of an exponential schedule, advancing
// the attempt counter for key. An uncapped schedule saturates at the
// maximum duration instead of overflowing into a negative wait.
func (s *Sampler) Backoff(p *config.BackoffPolicy, key string) time.Duration {
	s.attempts[key]++
	exponent := s.attempts[key] - 1
	f := float64(p.Base) * math.Pow(p.Factor, float64(exponent))
	d := time.Duration(math.MaxInt64)
	if f < math.MaxInt64 {
		d = time.Duration(f)
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Reset clears the backoff attempt counter for key.
func (s *Sampler) Reset(key string) {
	delete(s.attempts, key)
}

// Wait sleeps for d, returning early with ctx.Err() on cancellation.
// A zero or negative d still yields through the timer once instead of
// spinning.
func Wait(ctx context.Context, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// uniformBetween samples uniformly over [lo, hi]. Bounds are validated
// at resolve time; equal bounds return lo.
func uniformBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
}
