// Package obs wires the connection core's lifecycle into OpenTelemetry:
// a state gauge, counters for reconnects (tagged with the drop reason
// that triggered them)/timeouts/backpressure/oversize closes/tombstone
// sweeps, and a per-request latency histogram with a matching span.
// Disabled by default (a no-op provider), enabled by setting Enabled and
// supplying a non-none ExporterType.
//
// Adapted from the teacher's internal/otel/tracer.go and
// internal/otel/metrics.go: same exporter-selection switch (none / stdout
// / otlp-grpc / otlp-http) and same enabled-flag-gates-everything shape,
// renamed from mcpdrill's HTTP-load-test instruments (operation latency,
// active sessions, stall counter) to the Core's own (state gauge,
// reconnect/timeout/backpressure/oversize/sweep counters, request span).
package obs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ExporterType selects where traces/metrics go.
type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// Config controls whether and how the core emits telemetry.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	ExporterType   ExporterType
	OTLPEndpoint   string
	OTLPInsecure   bool
}

// DefaultConfig returns telemetry disabled, matching the teacher's
// fail-closed default.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		ServiceName:  "mcpcore",
		ExporterType: ExporterNone,
	}
}

// Observer is the instrument set the state machine reports into. Every
// method must be cheap and non-blocking: it runs on the core's own
// goroutine.
type Observer interface {
	OnStateTransition(from, to string)
	OnReconnect(attempt int, delay time.Duration, dropReason string)
	OnTimeout(method string)
	OnBackpressure(method string)
	OnOversizeClose(frameLen int)
	OnTombstoneSweep(removed int)
	RecordRequest(ctx context.Context, method string, start time.Time, err error)
	Shutdown(ctx context.Context) error
}

// stateCode maps FSM state names to the integers the observable gauge
// reports, since OTel gauges carry numbers, not strings.
var stateCode = map[string]int64{
	"STARTING":     0,
	"INITIALIZING": 1,
	"READY":        2,
	"BACKOFF":      3,
	"CLOSING":      4,
}

type observer struct {
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	meterProvider  *sdkmetric.MeterProvider
	meter          metric.Meter

	currentState atomic.Int64

	reconnectCounter  metric.Int64Counter
	timeoutCounter    metric.Int64Counter
	backpressureCount metric.Int64Counter
	oversizeCounter   metric.Int64Counter
	sweepCounter      metric.Int64Counter
	requestLatency    metric.Float64Histogram
	stateGauge        metric.Int64ObservableGauge
	stateGaugeReg     metric.Registration
	shutdownFns       []func(context.Context) error
	mu                sync.Mutex
}

// New builds an Observer per cfg. A disabled config (or ExporterNone)
// returns a fully functional Observer backed by no-op providers: every
// call is cheap and nothing leaves the process.
func New(ctx context.Context, cfg Config) (Observer, error) {
	o := &observer{}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		o.tracerProvider = tracenoop.NewTracerProvider()
		o.tracer = o.tracerProvider.Tracer(cfg.ServiceName)
		o.meterProvider = sdkmetric.NewMeterProvider()
		o.meter = o.meterProvider.Meter(cfg.ServiceName)
		if err := o.registerInstruments(); err != nil {
			return nil, err
		}
		return o, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("obs: build resource: %w", err)
	}

	traceExporter, err := newTraceExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("obs: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	o.tracerProvider = tp
	o.tracer = tp.Tracer(cfg.ServiceName)
	o.shutdownFns = append(o.shutdownFns, tp.Shutdown)

	metricExporter, err := newMetricExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("obs: metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	o.meterProvider = mp
	o.meter = mp.Meter(cfg.ServiceName)
	o.shutdownFns = append(o.shutdownFns, mp.Shutdown)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	if err := o.registerInstruments(); err != nil {
		return nil, err
	}
	return o, nil
}

func newTraceExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdouttrace.New()
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("obs: unknown trace exporter type %q", cfg.ExporterType)
	}
}

func newMetricExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("obs: unknown metric exporter type %q", cfg.ExporterType)
	}
}

func (o *observer) registerInstruments() error {
	var err error
	if o.reconnectCounter, err = o.meter.Int64Counter("mcpcore.reconnect.count"); err != nil {
		return err
	}
	if o.timeoutCounter, err = o.meter.Int64Counter("mcpcore.request.timeout.count"); err != nil {
		return err
	}
	if o.backpressureCount, err = o.meter.Int64Counter("mcpcore.request.backpressure.count"); err != nil {
		return err
	}
	if o.oversizeCounter, err = o.meter.Int64Counter("mcpcore.frame.oversize.count"); err != nil {
		return err
	}
	if o.sweepCounter, err = o.meter.Int64Counter("mcpcore.tombstone.swept"); err != nil {
		return err
	}
	if o.requestLatency, err = o.meter.Float64Histogram("mcpcore.request.latency_ms"); err != nil {
		return err
	}
	o.stateGauge, err = o.meter.Int64ObservableGauge("mcpcore.state")
	if err != nil {
		return err
	}
	o.stateGaugeReg, err = o.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(o.stateGauge, o.currentState.Load())
		return nil
	}, o.stateGauge)
	return err
}

func (o *observer) OnStateTransition(from, to string) {
	o.currentState.Store(stateCode[to])
}

func (o *observer) OnReconnect(attempt int, delay time.Duration, dropReason string) {
	o.reconnectCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("drop_reason", dropReason),
		))
	_ = delay
}

func (o *observer) OnTimeout(method string) {
	o.timeoutCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("method", method)))
}

func (o *observer) OnBackpressure(method string) {
	o.backpressureCount.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("method", method)))
}

func (o *observer) OnOversizeClose(frameLen int) {
	o.oversizeCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Int("frame_len", frameLen)))
}

func (o *observer) OnTombstoneSweep(removed int) {
	if removed == 0 {
		return
	}
	o.sweepCounter.Add(context.Background(), int64(removed))
}

func (o *observer) RecordRequest(ctx context.Context, method string, start time.Time, callErr error) {
	end := time.Now()
	_, span := o.tracer.Start(ctx, "mcpcore.request",
		trace.WithTimestamp(start),
		trace.WithAttributes(attribute.String("method", method)))
	if callErr != nil {
		span.RecordError(callErr)
	}
	span.End(trace.WithTimestamp(end))

	o.requestLatency.Record(ctx, float64(end.Sub(start).Milliseconds()),
		metric.WithAttributes(attribute.String("method", method)))
}

func (o *observer) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stateGaugeReg != nil {
		_ = o.stateGaugeReg.Unregister()
	}
	var firstErr error
	for _, fn := range o.shutdownFns {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
