// Package supervisor implements the Supervisor/Lifecycle component
// (spec.md §2, row 8): it builds the Core around an Adapter and owns the
// Core's lifetime, so a caller never has to wire the pieces together
// themselves. The Supervisor does not attach the transport: the Core's Run
// performs the first attach and every reconnect. The Supervisor does not
// restart anything after a transport failure either.
//
// Grounded on the ctx+cancel+sync.WaitGroup Start/Stop shape of the
// teacher's vu.Engine (internal/vu/engine.go), with the same
// atomic.Bool-guarded idempotent Start/Stop the teacher uses.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bc-dunia/mcpcore/internal/client"
	"github.com/bc-dunia/mcpcore/internal/config"
	"github.com/bc-dunia/mcpcore/internal/corefsm"
	"github.com/bc-dunia/mcpcore/internal/events"
	"github.com/bc-dunia/mcpcore/internal/notify"
	"github.com/bc-dunia/mcpcore/internal/obs"
	"github.com/bc-dunia/mcpcore/internal/port"
)

// observerShutdownGrace bounds how long Stop waits for a Supervisor-built
// observer to flush its exporter, since s.ctx is already cancelled by the
// time Stop reaches this point.
const observerShutdownGrace = 5 * time.Second

// Supervisor owns one Core's full lifetime: construction, running it on
// its own goroutine, and tearing it down on Stop. Reconnection *within* a
// session (BACKOFF, re-attaching the same Adapter) is the Core's own
// responsibility; the Supervisor's job ends at "build the pieces, start
// them together, stop them together."
type Supervisor struct {
	adapter  port.Adapter
	cfg      config.Config
	observer obs.Observer
	sink     *notify.Sink

	connID string
	core   *corefsm.Core
	client *client.Client

	started      atomic.Bool
	closed       atomic.Bool
	ownsObserver bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Supervisor around the given Adapter and configuration. A
// nil observer falls back to a disabled one (obs.DefaultConfig()'s
// Enabled: false), matching the Core's own fail-closed telemetry default.
func New(adapter port.Adapter, cfg config.Config, observer obs.Observer) *Supervisor {
	sink := notify.NewSink(nil)
	return &Supervisor{
		adapter:  adapter,
		cfg:      cfg,
		observer: observer,
		sink:     sink,
		connID:   uuid.NewString(),
	}
}

// Start builds the Core and Client and launches the Core's event loop.
// Idempotent: a second Start is a no-op. The context governs the whole
// connection's lifetime; cancelling it triggers the Core's forced
// shutdown path.
func (s *Supervisor) Start(ctx context.Context) *client.Client {
	if s.started.Swap(true) {
		return s.client
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	logger := events.NewEventLogger(s.connID)

	observer := s.observer
	if observer == nil {
		var err error
		observer, err = obs.New(s.ctx, obs.DefaultConfig())
		if err != nil {
			// obs.New only fails building a live exporter; DefaultConfig is
			// Enabled: false, so this path is unreachable in practice, but a
			// Supervisor must still return something usable.
			observer, _ = obs.New(s.ctx, obs.Config{Enabled: false})
		}
		s.ownsObserver = true
		s.observer = observer
	}

	s.core = corefsm.NewCore(s.cfg, s.adapter, observer, logger, s.sink)
	s.client = client.New(s.core, s.sink)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.core.Run(s.ctx)
	}()

	return s.client
}

// Stop requests a graceful shutdown and blocks until the Core's event
// loop has exited. Idempotent.
func (s *Supervisor) Stop() {
	if s.closed.Swap(true) {
		return
	}
	if s.client != nil {
		s.client.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.ownsObserver && s.observer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), observerShutdownGrace)
		defer cancel()
		_ = s.observer.Shutdown(shutdownCtx)
	}
}

// ConnID returns the opaque per-connection identifier tagging every log
// line this Supervisor's Core emits. Spans and metrics do not carry it.
func (s *Supervisor) ConnID() string {
	return s.connID
}

// Client returns the Public Entry facade, or nil before Start.
func (s *Supervisor) Client() *client.Client {
	return s.client
}

// Done reports when the underlying Core's event loop has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.core.Done()
}
