// Backoff schedule (spec.md §4.5.3): next = min(current*2, backoff_max_ms),
// then jittered by backoff_jitter, then clamped to [backoff_min_ms,
// backoff_max_ms]. Resets to backoff_min_ms exactly once, at the
// INITIALIZING->READY transition (P6).
//
// Grounded on the jittered-doubling retry loop of the teacher's
// worker.RetryHTTPClient.Do (internal/worker/retry_client.go), rebuilt on
// top of github.com/cenkalti/backoff/v4's ExponentialBackOff: its
// NextBackOff jitters the current interval and then advances it by the
// same min(current*multiplier, max) rule, so the first delay after a Reset
// is backoff_min_ms (jittered), and Reset restores currentInterval to
// InitialInterval, matching P6 exactly.
package corefsm

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// backoffSchedule wraps cenkalti/backoff/v4's exponential backoff,
// clamped to the configured [min, max] range per spec.md's formula.
type backoffSchedule struct {
	b   *backoff.ExponentialBackOff
	min time.Duration
	max time.Duration
}

func newBackoffSchedule(min, max time.Duration, jitter float64) *backoffSchedule {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = jitter
	b.MaxElapsedTime = 0 // never stop producing intervals
	b.Reset()
	return &backoffSchedule{b: b, min: min, max: max}
}

// Next returns the next reconnect delay, with jitter applied and clamped
// to [min, max].
func (s *backoffSchedule) Next() time.Duration {
	d := s.b.NextBackOff()
	if d < s.min {
		d = s.min
	}
	if d > s.max {
		d = s.max
	}
	return d
}

// Reset restores the schedule to its initial (backoff_min_ms) state. The
// core calls this exactly once, at the INITIALIZING->READY transition.
func (s *backoffSchedule) Reset() {
	s.b.Reset()
}
