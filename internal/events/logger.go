// Package events provides structured logging for the connection core's
// lifecycle: state transitions, reconnects, timeouts, tombstone sweeps,
// and notification handler panics.
//
// Same shape as the teacher's events.EventLogger (internal/events/logger.go
// in bc-dunia-mcpdrill): a slog.Logger with bound base attributes, a
// writer-injectable constructor for tests, global accessor, and a
// discard-everything Noop constructor. Method set is renamed end to end
// for the core's own event taxonomy instead of load-test session/stage
// events.
package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger logs one structured record per core lifecycle event.
type EventLogger struct {
	logger *slog.Logger
	connID string
}

// NewEventLogger builds an EventLogger with JSON output to stdout, tagged
// with a connection id so multi-connection processes can filter by it.
func NewEventLogger(connID string) *EventLogger {
	return NewEventLoggerWithWriter(connID, os.Stdout)
}

// NewEventLoggerWithWriter builds an EventLogger writing JSON to w. Used
// by tests that want to assert on emitted records.
func NewEventLoggerWithWriter(connID string, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler).With("conn_id", connID)
	return &EventLogger{logger: logger, connID: connID}
}

// NoopEventLogger discards every record. Used as the default when the
// caller supplies none.
func NoopEventLogger() *EventLogger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &EventLogger{logger: slog.New(handler)}
}

// LogStateTransition logs every FSM state change.
func (el *EventLogger) LogStateTransition(from, to, reason string) {
	el.logger.Info("state_transition",
		"from", from,
		"to", to,
		"reason", reason,
	)
}

// LogReconnect logs a BACKOFF -> (re)attach attempt.
func (el *EventLogger) LogReconnect(attempt int, delayMs int64) {
	el.logger.Info("reconnect",
		"attempt", attempt,
		"delay_ms", delayMs,
	)
}

// LogBackoffScheduled logs the computed delay before the next reconnect
// attempt, ahead of actually attempting it.
func (el *EventLogger) LogBackoffScheduled(delayMs int64, reason string) {
	el.logger.Warn("backoff_scheduled",
		"delay_ms", delayMs,
		"reason", reason,
	)
}

// LogRequestTimeout logs a per-request timeout firing.
func (el *EventLogger) LogRequestTimeout(id int64, method string, elapsedMs int64) {
	el.logger.Warn("request_timeout",
		"request_id", id,
		"method", method,
		"elapsed_ms", elapsedMs,
	)
}

// LogBackpressureExhausted logs a request failing after exhausting all
// busy-retry attempts.
func (el *EventLogger) LogBackpressureExhausted(id int64, method string, attempts int) {
	el.logger.Warn("backpressure_exhausted",
		"request_id", id,
		"method", method,
		"attempts", attempts,
	)
}

// LogTombstoneSweep logs a periodic tombstone sweep.
func (el *EventLogger) LogTombstoneSweep(removed int) {
	if removed == 0 {
		return
	}
	el.logger.Info("tombstone_sweep", "removed", removed)
}

// LogUnknownResponse logs a response frame whose id matches no known
// request, at debug level per spec.md §4.5.3 ("emit unknown-response
// telemetry at debug").
func (el *EventLogger) LogUnknownResponse(id int64) {
	el.logger.Debug("unknown_response", "request_id", id)
}

// LogOversizeFrame logs a protocol-violation oversize frame.
func (el *EventLogger) LogOversizeFrame(length, cap int) {
	el.logger.Warn("oversize_frame",
		"length", length,
		"cap", cap,
	)
}

// LogDecodeError logs a frame that failed to decode; for non-request
// frames this is the terminal handling (logged and dropped).
func (el *EventLogger) LogDecodeError(err error) {
	el.logger.Warn("decode_error", "error", err.Error())
}

// LogNotificationHandlerPanic logs a recovered panic from a registered
// notification handler.
func (el *EventLogger) LogNotificationHandlerPanic(method string, recovered any) {
	el.logger.Error("notification_handler_panic",
		"method", method,
		"panic", recovered,
	)
}

// LogTransportDown logs the transport reporting terminal failure.
func (el *EventLogger) LogTransportDown(reason string) {
	el.logger.Warn("transport_down", "reason", reason)
}

// LogHandshakeFailure logs an INITIALIZING failure (bad version, bad
// capabilities, init-error response, or init deadline).
func (el *EventLogger) LogHandshakeFailure(reason string) {
	el.logger.Warn("handshake_failure", "reason", reason)
}

// LogSessionStarted logs a successful handshake completing, tagging the
// new session counter value.
func (el *EventLogger) LogSessionStarted(session int64, serverName, serverVersion string) {
	el.logger.Info("session_started",
		"session", session,
		"server_name", serverName,
		"server_version", serverVersion,
	)
}

// Global logger management, mirroring the teacher's package-level
// accessor so code that doesn't thread an *EventLogger through every call
// (e.g. deep in a helper) can still reach one.
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance, or a
// no-op logger if none has been set.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}
