// Package config holds the connection core's immutable configuration, per
// spec.md §3.1.
package config

import "time"

// Config is constructed once and never mutated afterward; callers that
// want different settings build a modified copy (spec.md §9, "dynamic
// configuration").
type Config struct {
	// RequestTimeout bounds how long an in-flight request waits for a
	// response before the caller sees mcperr.Timeout.
	RequestTimeout time.Duration
	// InitTimeout bounds the INITIALIZING state's wait for the
	// initialize response.
	InitTimeout time.Duration

	// BackoffMin is the first reconnect delay after a transport loss.
	BackoffMin time.Duration
	// BackoffMax caps the reconnect delay.
	BackoffMax time.Duration
	// BackoffJitter is the fractional jitter applied to each backoff
	// delay, e.g. 0.2 means ±20%.
	BackoffJitter float64

	// RetryAttempts is the total number of send attempts (including the
	// first) before a BUSY send gives up with mcperr.Backpressure.
	RetryAttempts int
	// RetryDelay is the base delay between busy-retry attempts.
	RetryDelay time.Duration
	// RetryJitter is the fractional jitter applied to each retry delay.
	RetryJitter float64

	// MaxFrameBytes caps both inbound and outbound frame size.
	MaxFrameBytes int

	// TombstoneSweepInterval is how often the FSM-scoped sweep timer
	// fires in READY to drop expired tombstones.
	TombstoneSweepInterval time.Duration

	// ProtocolVersion is the single version string this core sends in
	// the initialize request and requires back, per spec.md §6.3.
	ProtocolVersion string

	// CloseGrace bounds how long CLOSING waits before the Core's Run returns.
	CloseGrace time.Duration
}

// Default returns the configuration documented in spec.md §3.1.
func Default() Config {
	c := Config{
		RequestTimeout:         30 * time.Second,
		InitTimeout:            10 * time.Second,
		BackoffMin:             1 * time.Second,
		BackoffMax:             30 * time.Second,
		BackoffJitter:          0.2,
		RetryAttempts:          3,
		RetryDelay:             10 * time.Millisecond,
		RetryJitter:            0.5,
		MaxFrameBytes:          16 * 1024 * 1024,
		TombstoneSweepInterval: 60 * time.Second,
		ProtocolVersion:        "2025-06-18",
		CloseGrace:             100 * time.Millisecond,
	}
	return c
}

// TombstoneTTL is always derived, never independently configured:
// spec.md §3.1, "tombstone_ttl_ms = request_timeout_ms + init_timeout_ms
// + backoff_max_ms + 5 000".
func (c Config) TombstoneTTL() time.Duration {
	return c.RequestTimeout + c.InitTimeout + c.BackoffMax + 5*time.Second
}
