package corefsm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/bc-dunia/mcpcore/internal/jsonrpc"
	"github.com/bc-dunia/mcpcore/internal/mcp"
	"github.com/bc-dunia/mcpcore/internal/mcperr"
	"github.com/bc-dunia/mcpcore/internal/notify"
	"github.com/bc-dunia/mcpcore/internal/port"
	"github.com/bc-dunia/mcpcore/internal/reqtable"
	"github.com/bc-dunia/mcpcore/internal/stability"
	"github.com/bc-dunia/mcpcore/internal/timer"
)

// handleAwaitReady and handleStop are deliberately not per-state: every
// state answers await_ready and stop the same way modulo the state
// itself, so routing them here avoids duplicating the same branch five
// times over (spec.md §4.5.3's "any other control event" catch-all reads
// literally as an immediate state error for every non-submit control
// event, but that would make await_ready useless outside READY — see
// §4.7's documented blocking semantics. Treating await_ready as queued
// in every non-terminal state resolves that tension without inventing
// new behaviour: it is the same "wait for the next READY" meaning the
// BACKOFF row already gives the I/O `up` race.)
func (c *Core) handleAwaitReady(v awaitReadyCmd) {
	switch c.state {
	case Ready:
		v.Reply <- nil
	case Closing:
		v.Reply <- mcperr.New(mcperr.Shutdown, "connection is closing")
	default:
		c.pendingAwaitReady = append(c.pendingAwaitReady, v.Reply)
	}
}

func (c *Core) handleStop(ctx context.Context, v stopCmd) bool {
	if c.state == Closing {
		v.Reply <- stopReply{AlreadyClosing: true}
		return false
	}
	v.Reply <- stopReply{AlreadyClosing: false}

	reason := mcperr.New(mcperr.Shutdown, "connection stopped")
	if c.state == Ready {
		c.stability.RecordDrop(stability.DropReasonClientClose, "stop requested")
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
	c.transitionTo(Closing, "stop requested")
	c.timers.ArmFSM(c.cfg.CloseGrace, timer.GraceExpire)
	return false
}

func (c *Core) handleClosing(ev any) bool {
	switch v := ev.(type) {
	case portEvent:
		if v.ev.Kind == port.EventDown {
			return true
		}
	case timer.FSMEvent:
		if v.Kind == timer.GraceExpire {
			return true
		}
	}
	// Every other event (stray frames, retry ticks, a second stop already
	// handled in dispatch) is dropped silently per spec.md's CLOSING row.
	return false
}

func (c *Core) handleStarting(ctx context.Context, ev any) bool {
	switch v := ev.(type) {
	case portEvent:
		if v.gen != c.gen {
			return false
		}
		switch v.ev.Kind {
		case port.EventUp:
			c.transitionTo(Initializing, "transport up")
			c.sendInitialize(ctx)
		case port.EventDown:
			c.scheduleBackoff(ctx, stability.DropReasonNetwork, "transport down before up")
		}
	case submitCmd:
		v.Reply <- reqtable.Reply{Err: mcperr.StateError(c.state.String())}
	case submitNotificationCmd:
		// Fire-and-forget with nowhere to report the rejection; dropped.
	}
	return false
}

func (c *Core) handleInitializing(ctx context.Context, ev any) bool {
	switch v := ev.(type) {
	case portEvent:
		if v.gen != c.gen {
			return false
		}
		switch v.ev.Kind {
		case port.EventUp:
			c.sendInitialize(ctx)
		case port.EventFrame:
			c.handleInitFrame(ctx, v.ev.Frame)
		case port.EventDown:
			c.scheduleBackoff(ctx, stability.DropReasonNetwork, "transport down during handshake")
		}
	case timer.FSMEvent:
		if v.Kind == timer.InitTimeout {
			c.scheduleBackoff(ctx, stability.DropReasonTimeout, "init deadline exceeded")
		}
	case submitCmd:
		v.Reply <- reqtable.Reply{Err: mcperr.StateError(c.state.String())}
	case submitNotificationCmd:
	}
	return false
}

// sendInitialize implements the critical ordering rule of spec.md
// §4.5.4: the initialize frame goes out before the next read is armed,
// never the reverse.
func (c *Core) sendInitialize(ctx context.Context) {
	params := jsonrpc.InitializeParams{
		ProtocolVersion: c.cfg.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      jsonrpc.ClientInfo{Name: mcp.ClientName, Version: mcp.ClientVersion},
	}
	frame, err := jsonrpc.EncodeRequest(c.nextRequestID(), jsonrpc.MethodInitialize, params)
	if err != nil {
		c.scheduleBackoff(ctx, stability.DropReasonProtocol, "failed to encode initialize request")
		return
	}
	if _, err := c.currentPort.Send(frame); err != nil {
		c.scheduleBackoff(ctx, stability.DropReasonNetwork, "failed to send initialize request")
		return
	}
	if err := c.currentPort.SetActive(port.ActiveOnce); err != nil {
		c.scheduleBackoff(ctx, stability.DropReasonNetwork, "failed to arm initialize response read")
		return
	}
	c.timers.ArmFSM(c.cfg.InitTimeout, timer.InitTimeout)
}

func (c *Core) handleInitFrame(ctx context.Context, raw []byte) {
	if err := jsonrpc.CheckSize(len(raw), c.cfg.MaxFrameBytes); err != nil {
		c.observer.OnOversizeClose(len(raw))
		c.logger.LogOversizeFrame(len(raw), c.cfg.MaxFrameBytes)
		c.scheduleBackoff(ctx, stability.DropReasonProtocol, "oversize frame during handshake")
		return
	}

	frame, err := jsonrpc.Decode(raw)
	if err != nil {
		c.logger.LogDecodeError(err)
		c.requestNextFrame()
		return
	}

	switch frame.Kind {
	case jsonrpc.KindResponseError:
		c.logger.LogHandshakeFailure(fmt.Sprintf("server returned init error: %s", frame.Error.Message))
		c.scheduleBackoff(ctx, stability.DropReasonProtocol, "init error response")
	case jsonrpc.KindResponseSuccess:
		var result jsonrpc.InitializeResult
		if err := json.Unmarshal(frame.Result, &result); err != nil {
			c.logger.LogHandshakeFailure("malformed init result: " + err.Error())
			c.scheduleBackoff(ctx, stability.DropReasonProtocol, "malformed init result")
			return
		}
		if err := mcp.ValidateNegotiation(c.cfg.ProtocolVersion, result.ProtocolVersion, mcp.VersionPolicyStrict); err != nil {
			c.logger.LogHandshakeFailure(err.Error())
			c.scheduleBackoff(ctx, stability.DropReasonProtocol, "protocol version mismatch")
			return
		}
		c.completeHandshake(result)
	default:
		// Anything else (a notification or server request arriving before
		// the handshake completes) is dropped; request the next frame.
		c.requestNextFrame()
	}
}

func (c *Core) completeHandshake(result jsonrpc.InitializeResult) {
	c.serverCaps = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.session++
	c.backoff.Reset() // P6: exactly once, at INITIALIZING->READY.
	c.reconnectAttempts = 0
	c.stability.RecordReconnectSuccess()

	notif, err := jsonrpc.EncodeNotification(jsonrpc.MethodInitializedNotify, nil)
	if err == nil {
		_, _ = c.currentPort.Send(notif)
	}
	c.timers.ArmFSM(c.cfg.TombstoneSweepInterval, timer.SweepTick)
	c.requestNextFrame()
	c.transitionTo(Ready, "handshake complete")
	c.logger.LogSessionStarted(c.session, c.serverInfo.Name, c.serverInfo.Version)
	c.fulfillPendingAwaitReady(nil)
}

func (c *Core) handleReady(ctx context.Context, ev any) bool {
	switch v := ev.(type) {
	case portEvent:
		if v.gen != c.gen {
			return false
		}
		c.handleReadyPortEvent(ctx, v.ev)
	case submitCmd:
		c.handleSubmit(ctx, v)
	case submitNotificationCmd:
		c.handleSubmitNotification(v)
	case timer.RequestTimeoutEvent:
		c.handleRequestTimeout(ctx, v.ID)
	case timer.RetryTickEvent:
		c.handleRetryTick(ctx, v.ID)
	case timer.FSMEvent:
		if v.Kind == timer.SweepTick {
			removed := c.table.Sweep()
			c.observer.OnTombstoneSweep(removed)
			c.logger.LogTombstoneSweep(removed)
			c.timers.ArmFSM(c.cfg.TombstoneSweepInterval, timer.SweepTick)
		}
	}
	return false
}

func (c *Core) handleReadyPortEvent(ctx context.Context, ev port.Event) {
	switch ev.Kind {
	case port.EventFrame:
		c.handleReadyFrame(ctx, ev.Frame)
	case port.EventDown:
		c.failAllAndBackoff(ctx, mcperr.New(mcperr.TransportLoss, "transport went down"), stability.DropReasonNetwork, "transport down")
	case port.EventUp:
		// A spurious second up from the same attach never happens per the
		// Port contract; nothing to do if it somehow did.
	}
}

func (c *Core) handleReadyFrame(ctx context.Context, raw []byte) {
	if err := jsonrpc.CheckSize(len(raw), c.cfg.MaxFrameBytes); err != nil {
		c.observer.OnOversizeClose(len(raw))
		c.logger.LogOversizeFrame(len(raw), c.cfg.MaxFrameBytes)
		c.failAllAndBackoff(ctx, mcperr.New(mcperr.TransportError, "oversize inbound frame"), stability.DropReasonProtocol, "oversize frame")
		return
	}

	frame, err := jsonrpc.Decode(raw)
	if err != nil {
		c.logger.LogDecodeError(err)
		c.requestNextFrame()
		return
	}

	switch frame.Kind {
	case jsonrpc.KindResponseSuccess, jsonrpc.KindResponseError:
		c.handleResponse(ctx, frame)
		c.requestNextFrame()
	case jsonrpc.KindNotification:
		c.handleNotification(ctx, frame)
		c.requestNextFrame()
	case jsonrpc.KindServerRequest:
		if frame.Method == jsonrpc.MethodInitialize {
			// A server re-initiating the handshake mid-session is a
			// protocol violation, per the decision recorded in DESIGN.md:
			// treat it the same as any other fatal protocol error.
			c.logger.LogHandshakeFailure("server sent initialize while READY")
			c.failAllAndBackoff(ctx, mcperr.New(mcperr.Protocol, "server-initiated initialize while READY"), stability.DropReasonProtocol, "server re-initiated handshake")
			return
		}
		resp, err := jsonrpc.EncodeMethodNotFound(frame.ID, frame.Method)
		if err == nil {
			_, _ = c.currentPort.Send(resp)
		}
		c.requestNextFrame()
	}
}

func (c *Core) handleResponse(ctx context.Context, frame *jsonrpc.Frame) {
	id := frame.ID
	if entry, ok := c.table.TakeInFlight(id); ok {
		c.timers.CancelPerID(id)
		c.table.Tombstone(id, c.cfg.TombstoneTTL())
		var replyErr error
		if frame.Kind == jsonrpc.KindResponseError {
			mErr := mcperr.ServerError(frame.Error.Code, frame.Error.Message, frame.Error.Data)
			replyErr = mErr
			c.deliver(entry.Caller, reqtable.Reply{Err: mErr})
		} else {
			c.deliver(entry.Caller, reqtable.Reply{Result: frame.Result})
		}
		c.observer.RecordRequest(ctx, entry.Method, entry.StartedAt, replyErr)
		return
	}
	if c.table.IsTombstoned(id) {
		return // L3/L4: second and late responses for a resolved id are dropped.
	}
	c.logger.LogUnknownResponse(id)
}

func (c *Core) handleNotification(ctx context.Context, frame *jsonrpc.Frame) {
	if frame.Method == jsonrpc.MethodCancelledNotify {
		var params jsonrpc.CancelledNotificationParams
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.logger.LogDecodeError(err)
			return
		}
		c.handleCancelledNotification(ctx, params.RequestID, params.Reason)
		return
	}
	c.sink.Dispatch(notify.Notification{Method: frame.Method, Params: frame.Params})
}

// handleCancelledNotification follows spec.md's "behave as the timeout
// path" rule: tombstone the id and fulfill its caller, same as a timeout,
// rather than a fresh variant. An unknown id is dropped silently per the
// resolved open question in DESIGN.md.
func (c *Core) handleCancelledNotification(ctx context.Context, id int64, reason string) {
	entry, ok := c.table.TakeInFlight(id)
	if !ok {
		return
	}
	c.timers.CancelPerID(id)
	c.table.Tombstone(id, c.cfg.TombstoneTTL())
	msg := "request cancelled by server"
	if reason != "" {
		msg = reason
	}
	cancelErr := mcperr.New(mcperr.Protocol, msg)
	c.deliver(entry.Caller, reqtable.Reply{Err: cancelErr})
	c.observer.RecordRequest(ctx, entry.Method, entry.StartedAt, cancelErr)
}

func (c *Core) handleSubmit(ctx context.Context, v submitCmd) {
	id := c.nextRequestID()
	start := time.Now()
	frame, err := jsonrpc.EncodeRequest(id, v.Method, v.Params)
	if err != nil {
		encErr := mcperr.New(mcperr.TransportError, "failed to encode request: "+err.Error())
		v.Reply <- reqtable.Reply{Err: encErr}
		c.observer.RecordRequest(ctx, v.Method, start, encErr)
		return
	}
	if err := jsonrpc.CheckSize(len(frame), c.cfg.MaxFrameBytes); err != nil {
		sizeErr := mcperr.New(mcperr.OversizeOutbound, err.Error())
		v.Reply <- reqtable.Reply{Err: sizeErr}
		c.observer.RecordRequest(ctx, v.Method, start, sizeErr)
		return
	}

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}

	result, sendErr := c.currentPort.Send(frame)
	switch result {
	case port.SendOK:
		c.table.InsertInFlight(id, &reqtable.RequestEntry{
			Caller:    v.Reply,
			Method:    v.Method,
			StartedAt: start,
			Timeout:   timeout,
			CorrID:    id,
		})
		c.timers.ArmRequestTimeout(id, timeout)
	case port.SendBusy:
		c.table.InsertRetry(id, &reqtable.RetryEntry{
			Frame:     frame,
			Caller:    v.Reply,
			Method:    v.Method,
			StartedAt: start,
			Timeout:   timeout,
			Attempts:  1,
		})
		c.timers.ArmRetryTick(id, jitteredDelay(c.cfg.RetryDelay, c.cfg.RetryJitter))
	case port.SendError:
		wrapped := mcperr.Wrap(mcperr.TransportError, "send failed", sendErr)
		v.Reply <- reqtable.Reply{Err: wrapped}
		c.observer.RecordRequest(ctx, v.Method, start, wrapped)
	}
}

func (c *Core) handleSubmitNotification(v submitNotificationCmd) {
	frame, err := jsonrpc.EncodeNotification(v.Method, v.Params)
	if err != nil {
		c.logger.LogDecodeError(err)
		return
	}
	if _, err := c.currentPort.Send(frame); err != nil {
		c.logger.LogTransportDown("notification send failed: " + err.Error())
	}
}

func (c *Core) handleRequestTimeout(ctx context.Context, id int64) {
	entry, ok := c.table.TakeInFlight(id)
	if !ok {
		return // Stale: the id resolved by some other path before this timer fired.
	}
	cancelFrame, err := jsonrpc.EncodeNotification(jsonrpc.MethodCancelRequestNotify, jsonrpc.CancelRequestParams{RequestID: id})
	if err == nil {
		_, _ = c.currentPort.Send(cancelFrame)
	}
	c.table.Tombstone(id, c.cfg.TombstoneTTL())
	c.observer.OnTimeout(entry.Method)
	c.logger.LogRequestTimeout(id, entry.Method, time.Since(entry.StartedAt).Milliseconds())
	timeoutErr := mcperr.New(mcperr.Timeout, "request timed out")
	c.deliver(entry.Caller, reqtable.Reply{Err: timeoutErr})
	c.observer.RecordRequest(ctx, entry.Method, entry.StartedAt, timeoutErr)
}

func (c *Core) handleRetryTick(ctx context.Context, id int64) {
	retry, ok := c.table.PeekRetry(id)
	if !ok {
		return // Stale: e.g. drained by a transport-down event already.
	}

	if retry.Attempts >= c.cfg.RetryAttempts {
		c.table.TakeRetry(id)
		c.table.Tombstone(id, c.cfg.TombstoneTTL())
		c.observer.OnBackpressure(retry.Method)
		c.logger.LogBackpressureExhausted(id, retry.Method, retry.Attempts)
		exhaustedErr := mcperr.New(mcperr.Backpressure, "transport busy on every retry attempt")
		c.deliver(retry.Caller, reqtable.Reply{Err: exhaustedErr})
		c.observer.RecordRequest(ctx, retry.Method, retry.StartedAt, exhaustedErr)
		return
	}

	result, err := c.currentPort.Send(retry.Frame)
	switch result {
	case port.SendOK:
		entry, _ := c.table.Promote(id) // P4: uses the entry's own stored timeout.
		c.timers.ArmRequestTimeout(id, entry.Timeout)
	case port.SendBusy:
		c.table.TakeRetry(id)
		retry.Attempts++
		c.table.InsertRetry(id, retry)
		c.timers.ArmRetryTick(id, jitteredDelay(c.cfg.RetryDelay, c.cfg.RetryJitter))
	case port.SendError:
		c.table.TakeRetry(id)
		c.table.Tombstone(id, c.cfg.TombstoneTTL())
		sendErr := mcperr.Wrap(mcperr.TransportError, "retry send failed", err)
		c.deliver(retry.Caller, reqtable.Reply{Err: sendErr})
		c.observer.RecordRequest(ctx, retry.Method, retry.StartedAt, sendErr)
	}
}

// failAllAndBackoff drains every in-flight and retrying entry with the
// same error, tombstones each freed id, and enters BACKOFF without
// re-arming frame delivery (invariant 5 — a close has just been ordered).
func (c *Core) failAllAndBackoff(ctx context.Context, reason *mcperr.Error, dropReason stability.DropReason, why string) {
	drained := c.table.Drain(reason)
	for _, d := range drained {
		c.timers.CancelPerID(d.ID)
		c.table.Tombstone(d.ID, c.cfg.TombstoneTTL())
		c.deliver(d.Caller, reqtable.Reply{Err: d.Err})
		c.observer.RecordRequest(ctx, d.Method, d.StartedAt, d.Err)
	}
	c.timers.CancelFSM()
	c.scheduleBackoff(ctx, dropReason, why)
}

func (c *Core) handleBackoff(ctx context.Context, ev any) bool {
	switch v := ev.(type) {
	case timer.FSMEvent:
		if v.Kind != timer.BackoffExpiry {
			return false
		}
		if err := c.attachTransport(ctx); err != nil {
			c.logger.LogHandshakeFailure("reconnect attach failed: " + err.Error())
			c.scheduleBackoff(ctx, stability.DropReasonNetwork, "reconnect attach failed")
			return false
		}
		c.transitionTo(Initializing, "reconnect attempt")
	case portEvent:
		if v.gen != c.gen {
			return false
		}
		if v.ev.Kind == port.EventUp {
			// Race: a prior re-attach came up before backoff_expire fired
			// for it. Spec.md's BACKOFF row documents this explicitly.
			c.transitionTo(Initializing, "transport up (race)")
		}
		// frame/down events while BACKOFF's transport is unattached (or a
		// stray from a dead generation) are dropped.
	case submitCmd:
		v.Reply <- reqtable.Reply{Err: mcperr.UnavailableError(c.backoffRemaining().Milliseconds())}
	case submitNotificationCmd:
	}
	return false
}

func jitteredDelay(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	factor := 1 + (rand.Float64()*2-1)*jitter
	d := time.Duration(float64(base) * factor)
	if d < 0 {
		d = 0
	}
	return d
}
