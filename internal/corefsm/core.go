package corefsm

import (
	"context"
	"sync"
	"time"

	"github.com/bc-dunia/mcpcore/internal/config"
	"github.com/bc-dunia/mcpcore/internal/events"
	"github.com/bc-dunia/mcpcore/internal/jsonrpc"
	"github.com/bc-dunia/mcpcore/internal/mcperr"
	"github.com/bc-dunia/mcpcore/internal/notify"
	"github.com/bc-dunia/mcpcore/internal/obs"
	"github.com/bc-dunia/mcpcore/internal/port"
	"github.com/bc-dunia/mcpcore/internal/reqtable"
	"github.com/bc-dunia/mcpcore/internal/stability"
	"github.com/bc-dunia/mcpcore/internal/timer"
)

// Status is a point-in-time, read-only snapshot of the core's FSM state
// and negotiated handshake results. Read concurrently by callers of
// CurrentState/ServerCapabilities/ServerInfo without touching the mailbox,
// since those queries must never block behind the event loop.
type Status struct {
	State      State
	ServerCaps map[string]any
	ServerInfo jsonrpc.ServerInfo
}

// Core is the single-owner state machine: one goroutine (Run) owns every
// field below except the mailbox channel itself and the statusMu-guarded
// snapshot. Nothing outside Run ever reads or writes table, timers,
// backoff, state, currentPort, gen, nextID, session, serverCaps,
// serverInfo, or pendingAwaitReady — that is the concurrency model
// spec.md §5 calls for, and the reason reqtable.Table carries no lock of
// its own.
type Core struct {
	cfg      config.Config
	adapter  port.Adapter
	observer obs.Observer
	logger   *events.EventLogger
	sink     *notify.Sink

	mailbox   chan any
	timers    *timer.Service
	table     *reqtable.Table
	backoff   *backoffSchedule
	stability *stability.Tracker

	state             State
	currentPort       port.Port
	gen               uint64
	nextID            int64
	session           int64
	serverCaps        map[string]any
	serverInfo        jsonrpc.ServerInfo
	reconnectAttempts int
	backoffArmedAt    time.Time
	backoffDelay      time.Duration
	pendingAwaitReady []chan error

	statusMu sync.RWMutex
	status   Status

	done chan struct{}
}

// NewCore builds a Core in state STARTING. Run must be called exactly
// once to drive it.
func NewCore(cfg config.Config, adapter port.Adapter, observer obs.Observer, logger *events.EventLogger, sink *notify.Sink) *Core {
	mailbox := make(chan any, 64)
	c := &Core{
		cfg:       cfg,
		adapter:   adapter,
		observer:  observer,
		logger:    logger,
		sink:      sink,
		mailbox:   mailbox,
		timers:    timer.NewService(mailbox),
		table:     reqtable.New(),
		backoff:   newBackoffSchedule(cfg.BackoffMin, cfg.BackoffMax, cfg.BackoffJitter),
		stability: stability.NewTracker(),
		state:     Starting,
		nextID:    1,
		done:      make(chan struct{}),
	}
	c.refreshStatus()
	return c
}

// Done reports when Run has returned.
func (c *Core) Done() <-chan struct{} {
	return c.done
}

// Run drives the event loop until a stop completes its grace deadline,
// the transport reports down while CLOSING, or ctx is cancelled. It must
// be run on its own goroutine; every other Core method communicates with
// it exclusively through the mailbox.
func (c *Core) Run(ctx context.Context) {
	defer close(c.done)

	if err := c.attachTransport(ctx); err != nil {
		c.logger.LogHandshakeFailure("initial attach failed: " + err.Error())
		c.scheduleBackoff(ctx, stability.DropReasonNetwork, "initial attach failed")
	}

	for {
		select {
		case ev := <-c.mailbox:
			if c.dispatch(ctx, ev) {
				return
			}
		case <-ctx.Done():
			c.forceShutdown(ctx)
			return
		}
	}
}

// dispatch handles the two control events whose semantics are uniform
// across every state (await_ready, stop) and otherwise delegates to the
// handler for the current state.
func (c *Core) dispatch(ctx context.Context, ev any) bool {
	switch v := ev.(type) {
	case awaitReadyCmd:
		c.handleAwaitReady(v)
		return false
	case stopCmd:
		return c.handleStop(ctx, v)
	}

	switch c.state {
	case Starting:
		return c.handleStarting(ctx, ev)
	case Initializing:
		return c.handleInitializing(ctx, ev)
	case Ready:
		return c.handleReady(ctx, ev)
	case Backoff:
		return c.handleBackoff(ctx, ev)
	case Closing:
		return c.handleClosing(ev)
	default:
		return false
	}
}

// forceShutdown runs when the caller cancels ctx directly (process
// shutdown from outside the stop() API): fail everything outstanding,
// close the transport, and exit without waiting on the CLOSING grace
// timer, since the caller has already decided to stop waiting.
func (c *Core) forceShutdown(ctx context.Context) {
	reason := mcperr.New(mcperr.Shutdown, "context cancelled")
	if c.state == Ready {
		drained := c.table.Drain(reason)
		for _, d := range drained {
			c.timers.CancelPerID(d.ID)
			c.table.Tombstone(d.ID, c.cfg.TombstoneTTL())
			c.deliver(d.Caller, reqtable.Reply{Err: d.Err})
			c.observer.RecordRequest(ctx, d.Method, d.StartedAt, d.Err)
		}
	}
	c.timers.CancelAll()
	c.closeCurrentPort()
	c.fulfillPendingAwaitReady(reason)
	c.transitionTo(Closing, "context cancelled")
}

// Submit enqueues a caller request and blocks until it reaches a
// terminal outcome (success, timeout, backpressure, transport loss,
// shutdown, or an immediate state error). timeout <= 0 uses the
// configured default.
func (c *Core) Submit(method string, params any, timeout time.Duration) reqtable.Reply {
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	reply := make(chan reqtable.Reply, 1)
	c.mailbox <- submitCmd{Method: method, Params: params, Timeout: timeout, Reply: reply}
	return <-reply
}

// Notify sends a fire-and-forget notification. There is no reply: a send
// error is logged, not surfaced; a BUSY outcome, or a notification
// submitted outside READY, is dropped without a log line.
func (c *Core) Notify(method string, params any) {
	c.mailbox <- submitNotificationCmd{Method: method, Params: params}
}

// Stop requests a graceful shutdown. Idempotent: a second call observes
// AlreadyClosing, as does a call made after Run has exited.
func (c *Core) Stop() stopReply {
	reply := make(chan stopReply, 1)
	select {
	case c.mailbox <- stopCmd{Reply: reply}:
	case <-c.done:
		return stopReply{AlreadyClosing: true}
	}
	select {
	case r := <-reply:
		return r
	case <-c.done:
		select {
		case r := <-reply:
			return r
		default:
			return stopReply{AlreadyClosing: true}
		}
	}
}

// AwaitReady returns a channel that receives nil once the core reaches
// READY, or a non-nil error (CLOSING, or the connection stopped while
// waiting); it does not block itself. The caller applies
// its own deadline around this call; the core never holds a caller-scoped
// timer (invariant 7 budgets FSM-scoped timers, not per-caller ones).
func (c *Core) AwaitReady() <-chan error {
	reply := make(chan error, 1)
	c.mailbox <- awaitReadyCmd{Reply: reply}
	return reply
}

func (c *Core) CurrentState() State {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status.State
}

func (c *Core) ServerCapabilities() map[string]any {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status.ServerCaps
}

func (c *Core) ServerInfo() jsonrpc.ServerInfo {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status.ServerInfo
}

// Stability returns a snapshot of this connection's drop/reconnect
// history. Safe to call from any goroutine.
func (c *Core) Stability() stability.Snapshot {
	return c.stability.Snapshot()
}

func (c *Core) refreshStatus() {
	c.statusMu.Lock()
	c.status = Status{State: c.state, ServerCaps: c.serverCaps, ServerInfo: c.serverInfo}
	c.statusMu.Unlock()
}

func (c *Core) transitionTo(to State, reason string) {
	from := c.state
	c.state = to
	c.logger.LogStateTransition(from.String(), to.String(), reason)
	c.observer.OnStateTransition(from.String(), to.String())
	c.refreshStatus()
}

func (c *Core) nextRequestID() int64 {
	id := c.nextID
	c.nextID++
	return id
}

func (c *Core) deliver(caller reqtable.CallerHandle, reply reqtable.Reply) {
	caller <- reply
}

func (c *Core) fulfillPendingAwaitReady(err error) {
	for _, ch := range c.pendingAwaitReady {
		ch <- err
	}
	c.pendingAwaitReady = nil
}

func (c *Core) requestNextFrame() {
	if err := c.currentPort.SetActive(port.ActiveOnce); err != nil {
		c.logger.LogTransportDown("set_active failed: " + err.Error())
	}
}

func (c *Core) closeCurrentPort() {
	if c.currentPort != nil {
		_ = c.currentPort.Close()
	}
}

// attachTransport attaches a fresh Transport Port, tagging it with a new
// generation so any stray events from a previously superseded port are
// discarded by generation mismatch rather than mistaken for live events.
func (c *Core) attachTransport(ctx context.Context) error {
	p, err := c.adapter.Attach(ctx)
	if err != nil {
		return err
	}
	c.gen++
	gen := c.gen
	c.currentPort = p
	go portPump(gen, p, c.mailbox)
	return nil
}

// scheduleBackoff closes whatever transport is attached, computes the
// next jittered backoff delay, and arms the FSM-scoped reconnect timer.
func (c *Core) scheduleBackoff(ctx context.Context, dropReason stability.DropReason, reason string) {
	c.stability.RecordDrop(dropReason, reason)
	c.closeCurrentPort()
	d := c.backoff.Next()
	c.reconnectAttempts++
	c.backoffArmedAt = time.Now()
	c.backoffDelay = d
	c.observer.OnReconnect(c.reconnectAttempts, d, string(dropReason))
	c.logger.LogBackoffScheduled(d.Milliseconds(), reason)
	c.transitionTo(Backoff, reason)
	c.timers.ArmFSM(d, timer.BackoffExpiry)
}

func (c *Core) backoffRemaining() time.Duration {
	remaining := c.backoffDelay - time.Since(c.backoffArmedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
