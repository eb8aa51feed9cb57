// Command mcpclient is a demo harness for the connection core: it spawns
// an MCP server as a child process, drives the handshake to READY over
// its stdio, runs a single tool call, and shuts the connection down
// gracefully on SIGINT/SIGTERM.
//
// Grounded on the flag-parsing + context/cancel + signal-handling shape
// of the teacher's cmd/agent/main.go, with the domain content replaced:
// no control-plane registration or host metrics, just the Connection
// Core's own lifecycle. Mirrors the teacher's habit of splitting main's
// body into small testable helpers (register/collectAndSend/sendMetrics
// there; runClient here).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bc-dunia/mcpcore/internal/config"
	"github.com/bc-dunia/mcpcore/internal/obs"
	"github.com/bc-dunia/mcpcore/internal/port"
	"github.com/bc-dunia/mcpcore/internal/stdioport"
	"github.com/bc-dunia/mcpcore/internal/supervisor"
)

type options struct {
	command      string
	toolName     string
	toolArgs     string
	awaitTimeout time.Duration
	callTimeout  time.Duration
	otelEnabled  bool
}

func main() {
	opts := options{}
	flag.StringVar(&opts.command, "command", "", "Child process command line to run as the MCP server, e.g. \"mcp-server --flag\"")
	flag.StringVar(&opts.toolName, "call", "", "If set, invoke this tool once after the handshake completes")
	flag.StringVar(&opts.toolArgs, "args", "{}", "JSON object of arguments for --call")
	flag.DurationVar(&opts.awaitTimeout, "await-timeout", 10*time.Second, "How long to wait for the handshake to reach READY")
	flag.DurationVar(&opts.callTimeout, "call-timeout", 0, "Per-call timeout; 0 uses the connection's configured default")
	flag.BoolVar(&opts.otelEnabled, "otel", false, "Enable OpenTelemetry tracing/metrics export")
	flag.Parse()

	if opts.command == "" {
		fmt.Fprintln(os.Stderr, "Error: --command is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	parts := strings.Fields(opts.command)
	adapter := stdioport.NewAdapter(parts[0], parts[1:]...)

	if err := runClient(ctx, adapter, opts, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runClient owns the connection's whole lifetime: build the Supervisor,
// await the handshake, optionally make one call, and stop gracefully.
// Factored out of main so it can be driven against a fake Adapter in
// tests without touching flags, signals, or os.Exit.
func runClient(ctx context.Context, adapter port.Adapter, opts options, stdout, stderr io.Writer) error {
	cfg := config.Default()

	observerCfg := obs.DefaultConfig()
	observerCfg.Enabled = opts.otelEnabled
	if opts.otelEnabled {
		observerCfg.ExporterType = obs.ExporterStdout
	}

	observer, err := obs.New(ctx, observerCfg)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	sup := supervisor.New(adapter, cfg, observer)
	cl := sup.Start(ctx)
	defer sup.Stop()

	fmt.Fprintf(stderr, "conn_id=%s command=%q\n", sup.ConnID(), opts.command)

	if err := cl.AwaitReady(ctx, opts.awaitTimeout); err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}

	info := cl.ServerInfo()
	fmt.Fprintf(stderr, "Connected: server=%s version=%s\n", info.Name, info.Version)

	if opts.toolName == "" {
		return nil
	}

	var params any
	if err := json.Unmarshal([]byte(opts.toolArgs), &params); err != nil {
		return fmt.Errorf("invalid --args JSON: %w", err)
	}

	result, err := cl.Call(ctx, "tools/call", map[string]any{"name": opts.toolName, "arguments": params}, opts.callTimeout)
	if err != nil {
		return fmt.Errorf("call %s failed: %w", opts.toolName, err)
	}
	fmt.Fprintln(stdout, string(result))
	return nil
}
