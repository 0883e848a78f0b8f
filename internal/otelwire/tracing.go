// Tracing half of otelwire: one span per downward/upward protocol
// round-trip, so a req_id/rsp_id pair across the overlay tree shows up
// as a client span on the caller and a server span on the callee.
// Modeled on the teacher's internal/otel Tracer (no-op-by-default
// TracerProvider, exporter-type switch, global-tracer singleton), with
// mcpdrill's operation/tool attributes swapped for gator's
// action/ident ones.
package otelwire

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps a trace.TracerProvider, defaulting to a no-op provider
// so a disabled process never touches the OTel SDK.
type Tracer struct {
	cfg      Config
	provider trace.TracerProvider
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewTracer constructs a Tracer from cfg. With cfg.Enabled false (the
// default), every span it starts is a no-op.
func NewTracer(ctx context.Context, cfg Config) (*Tracer, error) {
	if !cfg.Enabled || cfg.ExporterType == "" || cfg.ExporterType == ExporterNone {
		return noopTracer(cfg), nil
	}

	exporter, err := buildTraceExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build trace exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("",
		semconv.ServiceName("gatortree"),
		attribute.String("ident", cfg.Ident),
		attribute.String("mode", cfg.Mode),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return &Tracer{cfg: cfg, provider: tp, tracer: tp.Tracer("gatortree"), shutdown: tp.Shutdown}, nil
}

func noopTracer(cfg Config) *Tracer {
	tp := noop.NewTracerProvider()
	return &Tracer{
		cfg: cfg, provider: tp, tracer: tp.Tracer("gatortree"),
		shutdown: func(context.Context) error { return nil },
	}
}

func buildTraceExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLPGRPC:
		var opts []otlptracegrpc.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		var opts []otlptracehttp.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// Enabled reports whether t was built from a Config with exporting on.
func (t *Tracer) Enabled() bool {
	return t != nil && t.cfg.Enabled && t.cfg.ExporterType != ExporterNone
}

// StartRPCSpan starts a span for one protocol round-trip: action is the
// envelope's action name, ident identifies the local process, and kind
// distinguishes the sending side (SpanKindClient) from the serving
// side (SpanKindServer).
func (t *Tracer) StartRPCSpan(ctx context.Context, action, ident string, kind trace.SpanKind) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "gator."+action,
		trace.WithSpanKind(kind),
		trace.WithAttributes(
			attribute.String("gator.action", action),
			attribute.String("gator.ident", ident),
		),
	)
}

// Shutdown flushes any pending spans and releases the tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}

var (
	globalTracer *Tracer
	globalMu     sync.RWMutex
	noopSingle   *Tracer
	noopOnce     sync.Once
)

// SetGlobalTracer installs t as the process-wide tracer consulted by
// sendRequest/handleConn in tier and wrapper, which have no per-call
// way to thread a Tracer through every protocol helper.
func SetGlobalTracer(t *Tracer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalTracer = t
}

// GetGlobalTracer returns the installed tracer, or a no-op singleton if
// none has been set.
func GetGlobalTracer() *Tracer {
	globalMu.RLock()
	t := globalTracer
	globalMu.RUnlock()
	if t != nil {
		return t
	}
	noopOnce.Do(func() { noopSingle = noopTracer(Config{}) })
	return noopSingle
}
