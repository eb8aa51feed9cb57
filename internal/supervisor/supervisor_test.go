package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bc-dunia/mcpcore/internal/config"
	"github.com/bc-dunia/mcpcore/internal/corefsm"
	"github.com/bc-dunia/mcpcore/internal/port"
)

type fakePort struct {
	events    chan port.Event
	activated chan port.Active
}

func newFakePort() *fakePort {
	return &fakePort{events: make(chan port.Event, 64), activated: make(chan port.Active, 64)}
}

func (p *fakePort) Send(frame []byte) (port.SendResult, error) { return port.SendOK, nil }

func (p *fakePort) SetActive(mode port.Active) error {
	select {
	case p.activated <- mode:
	default:
	}
	return nil
}

func (p *fakePort) Close() error { return nil }

func (p *fakePort) Events() <-chan port.Event { return p.events }

func (p *fakePort) pushUp()            { p.events <- port.Event{Kind: port.EventUp} }
func (p *fakePort) pushFrame(b []byte) { p.events <- port.Event{Kind: port.EventFrame, Frame: b} }

type fakeAdapter struct{ port *fakePort }

func (a *fakeAdapter) Attach(ctx context.Context) (port.Port, error) { return a.port, nil }

func testConfig() config.Config {
	c := config.Default()
	c.InitTimeout = 2 * time.Second
	c.RequestTimeout = 2 * time.Second
	return c
}

func TestStart_DrivesHandshakeToReady(t *testing.T) {
	fp := newFakePort()
	sup := New(&fakeAdapter{port: fp}, testConfig(), nil)

	cl := sup.Start(context.Background())
	defer sup.Stop()

	fp.pushUp()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(fp.activated) == 0 {
		time.Sleep(time.Millisecond)
	}

	resp, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"result": map[string]any{
			"protocolVersion": testConfig().ProtocolVersion,
			"capabilities":    map[string]any{},
			"serverInfo":      map[string]any{"name": "fake-server", "version": "1.0.0"},
		},
	})
	fp.pushFrame(resp)

	if err := cl.AwaitReady(context.Background(), time.Second); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	if cl.CurrentState() != corefsm.Ready {
		t.Fatalf("expected READY, got %s", cl.CurrentState())
	}
	if sup.ConnID() == "" {
		t.Fatal("expected a non-empty connection id")
	}
}

func TestStart_IsIdempotent(t *testing.T) {
	fp := newFakePort()
	sup := New(&fakeAdapter{port: fp}, testConfig(), nil)
	defer sup.Stop()

	first := sup.Start(context.Background())
	second := sup.Start(context.Background())
	if first != second {
		t.Fatal("expected a second Start to return the same client")
	}
}

func TestStop_IsIdempotentAndWaitsForExit(t *testing.T) {
	fp := newFakePort()
	sup := New(&fakeAdapter{port: fp}, testConfig(), nil)
	sup.Start(context.Background())

	sup.Stop()
	select {
	case <-sup.Done():
	default:
		t.Fatal("expected the core's event loop to have exited after Stop")
	}
	sup.Stop() // must not panic or block
}
