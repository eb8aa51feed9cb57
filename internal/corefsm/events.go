package corefsm

import (
	"time"

	"github.com/bc-dunia/mcpcore/internal/port"
	"github.com/bc-dunia/mcpcore/internal/reqtable"
)

// Control events, submitted by the Public Entry (internal/client) onto
// the core's mailbox. Every reply channel is buffered(1) so the core
// never blocks delivering a reply to a caller who gave up waiting.

type submitCmd struct {
	Method  string
	Params  any
	Timeout time.Duration
	Reply   chan reqtable.Reply
}

type submitNotificationCmd struct {
	Method string
	Params any
}

type stopReply struct {
	AlreadyClosing bool
}

type stopCmd struct {
	Reply chan stopReply
}

type awaitReadyCmd struct {
	Reply chan error
}

// portEvent wraps a Transport Port event with the generation it was
// issued under. The core discards any portEvent whose generation doesn't
// match the currently attached port, so a stray event from a superseded
// attach (e.g. a slow Down arriving after a fast BACKOFF->re-attach race)
// is never mistaken for one from the live port.
type portEvent struct {
	gen uint64
	ev  port.Event
}

// portPump forwards every event from p's channel onto the shared mailbox,
// tagged with gen, until p's channel closes. One pump runs per attached
// Port instance; stale pumps from a superseded attach keep running
// harmlessly until their Port fully closes, since the core will ignore
// their events by generation mismatch.
func portPump(gen uint64, p port.Port, mailbox chan<- any) {
	for ev := range p.Events() {
		mailbox <- portEvent{gen: gen, ev: ev}
	}
}
