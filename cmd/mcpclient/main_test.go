package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bc-dunia/mcpcore/internal/stdioport"
)

// fakeServerScript answers every initialize request with a canned
// handshake result and echoes every other request back as a generic
// success, extracting the caller's id with sed so responses stay
// correlated the way a real MCP server's would.
const fakeServerScript = `while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  if [ -z "$id" ]; then
    continue
  fi
  if echo "$line" | grep -q '"method":"initialize"'; then
    printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2025-06-18","capabilities":{},"serverInfo":{"name":"fake-server","version":"1.0.0"}}}\n' "$id"
  else
    printf '{"jsonrpc":"2.0","id":%s,"result":{"echo":true}}\n' "$id"
  fi
done`

func newFakeServerAdapter() *stdioport.Adapter {
	return stdioport.NewAdapter("/bin/sh", "-c", fakeServerScript)
}

func TestRunClient_HandshakeAndCallRoundTrip(t *testing.T) {
	adapter := newFakeServerAdapter()
	opts := options{
		command:      "fake-server",
		toolName:     "list_tools",
		toolArgs:     `{"cursor":null}`,
		awaitTimeout: 2 * time.Second,
	}

	var stdout, stderr bytes.Buffer
	err := runClient(context.Background(), adapter, opts, &stdout, &stderr)
	if err != nil {
		t.Fatalf("runClient: %v", err)
	}
	if !strings.Contains(stdout.String(), `"echo":true`) {
		t.Fatalf("expected echoed tool result in stdout, got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "fake-server") {
		t.Fatalf("expected server info logged to stderr, got %q", stderr.String())
	}
}

func TestRunClient_NoCallSkipsToolInvocation(t *testing.T) {
	adapter := newFakeServerAdapter()
	opts := options{
		command:      "fake-server",
		awaitTimeout: 2 * time.Second,
	}

	var stdout, stderr bytes.Buffer
	if err := runClient(context.Background(), adapter, opts, &stdout, &stderr); err != nil {
		t.Fatalf("runClient: %v", err)
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected no stdout output without --call, got %q", stdout.String())
	}
}

func TestRunClient_HandshakeTimeoutSurfacesError(t *testing.T) {
	// A server that never replies to anything.
	adapter := stdioport.NewAdapter("/bin/sh", "-c", "cat >/dev/null")
	opts := options{
		command:      "silent-server",
		awaitTimeout: 50 * time.Millisecond,
	}

	var stdout, stderr bytes.Buffer
	err := runClient(context.Background(), adapter, opts, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected an error when the handshake never completes")
	}
}

func TestRunClient_InvalidCallArgsSurfacesError(t *testing.T) {
	adapter := newFakeServerAdapter()
	opts := options{
		command:      "fake-server",
		toolName:     "list_tools",
		toolArgs:     "not json",
		awaitTimeout: 2 * time.Second,
	}

	var stdout, stderr bytes.Buffer
	err := runClient(context.Background(), adapter, opts, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected an error for malformed --args JSON")
	}
}
