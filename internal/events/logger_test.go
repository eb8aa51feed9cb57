package events

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLogStateTransition_EmitsExpectedFields(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLoggerWithWriter("conn-1", &buf)

	el.LogStateTransition("INITIALIZING", "READY", "handshake complete")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec["msg"] != "state_transition" {
		t.Fatalf("unexpected msg %v", rec["msg"])
	}
	if rec["conn_id"] != "conn-1" || rec["from"] != "INITIALIZING" || rec["to"] != "READY" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestLogTombstoneSweep_SkipsZeroRemoved(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLoggerWithWriter("conn-1", &buf)

	el.LogTombstoneSweep(0)
	if buf.Len() != 0 {
		t.Fatalf("expected no record for a zero-removal sweep, got %q", buf.String())
	}

	el.LogTombstoneSweep(3)
	if buf.Len() == 0 {
		t.Fatalf("expected a record for a non-zero sweep")
	}
}

func TestNoopEventLogger_DiscardsEverything(t *testing.T) {
	el := NoopEventLogger()
	// Exercising every method must not panic even with a discard writer.
	el.LogStateTransition("STARTING", "INITIALIZING", "attach ok")
	el.LogReconnect(1, 1000)
	el.LogBackoffScheduled(2000, "transport down")
	el.LogRequestTimeout(1, "tools/call", 30000)
	el.LogBackpressureExhausted(2, "tools/call", 3)
	el.LogTombstoneSweep(1)
	el.LogUnknownResponse(99)
	el.LogOversizeFrame(17_000_000, 16_777_216)
	el.LogNotificationHandlerPanic("notifications/progress", "boom")
	el.LogTransportDown("eof")
	el.LogHandshakeFailure("version mismatch")
	el.LogSessionStarted(1, "test-server", "1.0.0")
}

func TestGlobalEventLogger_DefaultsToNoop(t *testing.T) {
	SetGlobalEventLogger(nil)
	if GetGlobalEventLogger() == nil {
		t.Fatal("expected a non-nil default logger")
	}

	custom := NoopEventLogger()
	SetGlobalEventLogger(custom)
	if GetGlobalEventLogger() != custom {
		t.Fatal("expected the explicitly set logger back")
	}
}
