package obs

import (
	"context"
	"testing"
	"time"
)

func TestNew_DisabledConfigIsSafeToCallThrough(t *testing.T) {
	o, err := New(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer o.Shutdown(context.Background())

	o.OnStateTransition("STARTING", "INITIALIZING")
	o.OnReconnect(1, 2*time.Second, "network")
	o.OnTimeout("tools/call")
	o.OnBackpressure("tools/call")
	o.OnOversizeClose(17_000_000)
	o.OnTombstoneSweep(3)
	o.RecordRequest(context.Background(), "tools/call", time.Now().Add(-50*time.Millisecond), nil)
}

func TestNew_StdoutExporterBuildsRealProviders(t *testing.T) {
	cfg := Config{
		Enabled:      true,
		ServiceName:  "mcpcore-test",
		ExporterType: ExporterStdout,
	}
	o, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.OnStateTransition("INITIALIZING", "READY")
	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
