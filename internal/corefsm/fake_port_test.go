package corefsm

import (
	"context"
	"sync"

	"github.com/bc-dunia/mcpcore/internal/port"
)

// fakePort is a minimal, test-only Transport Port: Send outcomes are
// driven by a caller-supplied function so tests can script BUSY/OK/ERROR
// sequences, and frame delivery is driven by pushing to a buffered
// channel that the test feeds manually (standing in for a real
// transport's read loop).
type fakePort struct {
	mu        sync.Mutex
	sendFn    func(frame []byte) (port.SendResult, error)
	sent      [][]byte
	events    chan port.Event
	closed    bool
	closeOnce sync.Once
	activated chan port.Active
}

func newFakePort() *fakePort {
	return &fakePort{
		events:    make(chan port.Event, 64),
		activated: make(chan port.Active, 64),
	}
}

func (p *fakePort) Send(frame []byte) (port.SendResult, error) {
	p.mu.Lock()
	p.sent = append(p.sent, append([]byte(nil), frame...))
	fn := p.sendFn
	p.mu.Unlock()
	if fn != nil {
		return fn(frame)
	}
	return port.SendOK, nil
}

func (p *fakePort) SetActive(mode port.Active) error {
	select {
	case p.activated <- mode:
	default:
	}
	return nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.events)
	})
	return nil
}

func (p *fakePort) Events() <-chan port.Event {
	return p.events
}

func (p *fakePort) pushUp() {
	p.events <- port.Event{Kind: port.EventUp}
}

func (p *fakePort) pushFrame(b []byte) {
	p.events <- port.Event{Kind: port.EventFrame, Frame: b}
}

func (p *fakePort) pushDown(err error) {
	p.events <- port.Event{Kind: port.EventDown, Err: err}
}

func (p *fakePort) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakePort) lastSent() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return nil
	}
	return p.sent[len(p.sent)-1]
}

// fakeAdapter hands out a fixed sequence of ports, one per Attach call.
// Tests that never reconnect only need one; BACKOFF-driven reconnect
// tests supply a second.
type fakeAdapter struct {
	mu    sync.Mutex
	ports []*fakePort
	err   error
	next  int
}

func newFakeAdapter(ports ...*fakePort) *fakeAdapter {
	return &fakeAdapter{ports: ports}
}

func (a *fakeAdapter) Attach(ctx context.Context) (port.Port, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if a.next >= len(a.ports) {
		return nil, errNoMorePorts
	}
	p := a.ports[a.next]
	a.next++
	return p, nil
}

var errNoMorePorts = &staticErr{"fakeAdapter: no more ports configured"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }
