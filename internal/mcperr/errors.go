// Package mcperr defines the caller-observable error taxonomy for the
// connection core.
package mcperr

import "fmt"

// Variant is the stable, caller-visible error category. Every terminal
// outcome that is not a successful result carries exactly one of these.
type Variant string

const (
	// Timeout means the request exceeded its deadline while in flight.
	Timeout Variant = "timeout"
	// Backpressure means the transport returned busy on every retry attempt.
	Backpressure Variant = "backpressure"
	// TransportError means a single send attempt failed outright (not busy).
	TransportError Variant = "transport_error"
	// TransportLoss means the transport went down while the request was in flight.
	TransportLoss Variant = "transport_loss"
	// Shutdown means stop was invoked while the request was pending.
	Shutdown Variant = "shutdown"
	// Protocol means a malformed response or notification was tied to this caller.
	Protocol Variant = "protocol"
	// OversizeOutbound means the encoded request exceeded max_frame_bytes.
	OversizeOutbound Variant = "oversize_outbound"
	// Server means the server returned a JSON-RPC error object, relayed verbatim.
	Server Variant = "server"
	// State means the operation was attempted in a non-READY state.
	State Variant = "state"
	// Unavailable is the BACKOFF-specific flavour of State.
	Unavailable Variant = "unavailable"
	// CapabilityMismatch means the caller attempted something the negotiated
	// capabilities forbid. The core only relays it; it never raises it itself.
	CapabilityMismatch Variant = "capability_mismatch"
)

// Error is the single error type returned across the Public Entry.
type Error struct {
	Variant Variant
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Variant)
	}
	return fmt.Sprintf("%s: %s", e.Variant, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with the given variant and message.
func New(variant Variant, message string) *Error {
	return &Error{Variant: variant, Message: message}
}

// Wrap builds an *Error that carries an underlying cause.
func Wrap(variant Variant, message string, cause error) *Error {
	return &Error{Variant: variant, Message: message, Cause: cause}
}

// WithDetails attaches structured detail fields and returns the receiver,
// mirroring the teacher's OperationError.Details convention.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// VariantOf returns the Variant carried by err if it is (or wraps) an
// *Error, and false otherwise.
func VariantOf(err error) (Variant, bool) {
	var me *Error
	if ok := asError(err, &me); ok {
		return me.Variant, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// StateError builds a STATE variant error carrying the current FSM state.
func StateError(current string) *Error {
	return New(State, fmt.Sprintf("operation not available in state %s", current)).
		WithDetails(map[string]any{"current_state": current})
}

// UnavailableError builds an UNAVAILABLE variant error carrying the
// remaining backoff delay.
func UnavailableError(backoffRemainingMs int64) *Error {
	return New(Unavailable, "connection is reconnecting").
		WithDetails(map[string]any{"backoff_remaining_ms": backoffRemainingMs})
}

// ServerError builds a SERVER variant error relaying a JSON-RPC error
// object verbatim.
func ServerError(code int, message string, data any) *Error {
	return New(Server, message).WithDetails(map[string]any{
		"code": code,
		"data": data,
	})
}
