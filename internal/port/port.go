// Package port defines the Transport Port contract the connection core
// depends on (spec.md §4.2, §6.1). Concrete transports — stdio subprocess,
// SSE, HTTP+SSE, OAuth-fronted transports — are external collaborators
// that satisfy this interface; none of their specifics are part of the
// Core.
package port

import "context"

// SendResult classifies the outcome of a single, non-blocking send
// attempt.
type SendResult int

const (
	// SendOK means the frame was accepted by the transport's outbound buffer.
	SendOK SendResult = iota
	// SendBusy means the outbound buffer can't accept a frame immediately
	// and a retry is warranted.
	SendBusy
	// SendError means the send failed outright (not a retry signal).
	SendError
)

func (r SendResult) String() string {
	switch r {
	case SendOK:
		return "ok"
	case SendBusy:
		return "busy"
	case SendError:
		return "error"
	default:
		return "unknown"
	}
}

// Active controls whether the Port may deliver the next frame event.
type Active int

const (
	// ActiveOnce permits exactly one subsequent Frame event.
	ActiveOnce Active = iota
	// ActiveOff disables frame delivery entirely.
	ActiveOff
)

// Port is the contract a concrete transport must satisfy. Every method
// must be non-blocking; blocking I/O happens inside the transport's own
// goroutines, which deliver results as Events on the channel returned by
// Events().
type Port interface {
	// Send attempts to hand one complete frame to the transport's
	// outbound buffer. It must return within microseconds: it classifies,
	// it does not wait for the bytes to reach the wire.
	Send(frame []byte) (SendResult, error)

	// SetActive arms (ActiveOnce) or disarms (ActiveOff) delivery of the
	// next Frame event. It is a no-op if the port has already been
	// closed. The core must never call SetActive after ordering Close
	// (spec.md invariant 5).
	SetActive(mode Active) error

	// Close best-effort terminates the transport. Idempotent.
	Close() error

	// Events returns the channel the Port delivers Up / Frame / Down
	// events on. The channel is closed after a Down event has been sent.
	Events() <-chan Event
}

// EventKind tags an inbound Port event.
type EventKind int

const (
	// EventUp fires exactly once after attach, when ready to exchange frames.
	EventUp EventKind = iota
	// EventFrame carries one complete JSON-RPC message, emitted only
	// after a prior SetActive(ActiveOnce).
	EventFrame
	// EventDown is terminal for this transport instance.
	EventDown
)

// Event is one message out of a Port's Events channel.
type Event struct {
	Kind  EventKind
	Frame []byte // populated for EventFrame
	Err   error  // populated for EventDown, nil for a graceful close
}

// Adapter attaches a concrete transport and returns a live Port. The Core
// (internal/corefsm) calls Attach when Run starts and again on each
// BACKOFF expiry; between attaches it only ever holds a Port.
type Adapter interface {
	Attach(ctx context.Context) (Port, error)
}
