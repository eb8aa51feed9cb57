// Package client implements the Public Entry (spec.md §4.7): the thin,
// synchronous facade a caller actually holds. It owns no FSM state of its
// own. Call, Stop and AwaitReady are translated into messages on the
// Core's mailbox and wait for the Core's reply; Notify posts a message
// and returns at once; the read-only queries read the Core's status
// snapshot directly.
//
// Grounded on the thin-delegating-facade shape of the teacher's
// session.Manager (internal/session/manager.go): an atomic.Bool closed
// flag guarding idempotent Stop, with every other method a direct
// passthrough to the thing that actually owns the state.
package client

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/bc-dunia/mcpcore/internal/corefsm"
	"github.com/bc-dunia/mcpcore/internal/jsonrpc"
	"github.com/bc-dunia/mcpcore/internal/mcperr"
	"github.com/bc-dunia/mcpcore/internal/notify"
)

// Client is the facade a caller holds. It is safe for concurrent use by
// multiple goroutines, mirroring the Core's own concurrency contract.
type Client struct {
	core   *corefsm.Core
	sink   *notify.Sink
	closed atomic.Bool
}

// New wraps an already-running Core (started by the Supervisor) in the
// Public Entry facade.
func New(core *corefsm.Core, sink *notify.Sink) *Client {
	return &Client{core: core, sink: sink}
}

// Call submits a request and blocks until it reaches a terminal outcome.
// timeout <= 0 uses the connection's configured default. The result is
// the raw JSON-RPC result payload; callers unmarshal it into their own
// type.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, mcperr.New(mcperr.Shutdown, "client is closed")
	}

	reply := c.core.Submit(method, params, timeout)
	if reply.Err != nil {
		return nil, reply.Err
	}
	return reply.Result, nil
}

// Notify sends a fire-and-forget notification. There is no error to
// observe: a failed send is logged by the Core, and a BUSY or out-of-READY
// notification is dropped silently; neither is surfaced here.
func (c *Client) Notify(method string, params any) {
	if c.closed.Load() {
		return
	}
	c.core.Notify(method, params)
}

// Stop requests a graceful shutdown and blocks until the Core has
// acknowledged it. Idempotent: a second call observes AlreadyClosing
// without re-entering the Core's shutdown path.
func (c *Client) Stop() (alreadyClosing bool) {
	if c.closed.Swap(true) {
		return true
	}
	reply := c.core.Stop()
	return reply.AlreadyClosing
}

// AwaitReady blocks until the connection reaches READY, the connection
// fails permanently, or deadline elapses — whichever comes first. The
// Core itself never imposes this deadline (it holds no per-caller timers,
// per invariant 7); racing it against the caller's own deadline is this
// facade's job.
func (c *Client) AwaitReady(ctx context.Context, deadline time.Duration) error {
	if c.closed.Load() {
		return mcperr.New(mcperr.Shutdown, "client is closed")
	}

	readyErr := c.core.AwaitReady()

	var timeoutC <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case err := <-readyErr:
		return err
	case <-timeoutC:
		return mcperr.New(mcperr.Timeout, "await_ready deadline exceeded")
	case <-ctx.Done():
		return mcperr.Wrap(mcperr.Shutdown, "await_ready cancelled", ctx.Err())
	}
}

// ServerCapabilities returns the capabilities object negotiated during
// the most recent handshake, or nil before the first one completes.
func (c *Client) ServerCapabilities() map[string]any {
	return c.core.ServerCapabilities()
}

// ServerInfo returns the server's self-reported name/version from the
// most recent handshake.
func (c *Client) ServerInfo() jsonrpc.ServerInfo {
	return c.core.ServerInfo()
}

// CurrentState reports the FSM's current state.
func (c *Client) CurrentState() corefsm.State {
	return c.core.CurrentState()
}

// OnNotification registers a handler invoked for every server-to-client
// notification other than notifications/cancelled, which the Core
// handles internally. Handlers run synchronously on the Core's own
// goroutine; a panicking handler is recovered and logged by the Sink, not
// propagated here.
func (c *Client) OnNotification(h notify.Handler) {
	c.sink.Register(h)
}
