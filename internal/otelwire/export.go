// Package otelwire optionally exports a tier or wrapper's counters
// through OpenTelemetry metrics. It is entirely off the critical path:
// a process with exporting disabled records into an SDK meter provider
// that has no reader, so nothing leaves the process, matching §9's
// "no hub/telemetry collector is required to run a tree".
// A MetricsConfig/exporter-type-switch/no-op-default shape, carrying
// sub_total/sub_active/sub_passed/sub_failed and job outcome counters.
package otelwire

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ExporterType selects which OTLP transport (or stdout) receives
// exported metrics.
type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// Config controls whether and how a process exports metrics. The zero
// value disables exporting.
type Config struct {
	Enabled      bool
	Ident        string
	Mode         string // "tier" or "wrapper"
	ExporterType ExporterType
	OTLPEndpoint string
	OTLPInsecure bool
}

// Exporter reports an overlay-tree process's counters to an
// OpenTelemetry meter provider, or discards them if disabled.
type Exporter struct {
	cfg      Config
	shutdown func(context.Context) error

	subTotal  metric.Int64Counter
	subActive metric.Int64UpDownCounter
	subPassed metric.Int64Counter
	subFailed metric.Int64Counter
	jobExit   metric.Int64Counter
}

// New constructs an Exporter. With cfg.Enabled false (the default), it
// returns a no-op exporter that never touches the network.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	e := &Exporter{cfg: cfg, shutdown: func(context.Context) error { return nil }}
	if !cfg.Enabled || cfg.ExporterType == "" || cfg.ExporterType == ExporterNone {
		mp := sdkmetric.NewMeterProvider()
		return e.withMeter(mp.Meter("gatortree"))
	}

	exporter, err := buildExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build metrics exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("",
		semconv.ServiceName("gatortree"),
		attribute.String("ident", cfg.Ident),
		attribute.String("mode", cfg.Mode),
	))
	if err != nil {
		return nil, fmt.Errorf("build metrics resource: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	e.shutdown = mp.Shutdown
	return e.withMeter(mp.Meter("gatortree"))
}

func buildExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLPGRPC:
		var opts []otlpmetricgrpc.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		var opts []otlpmetrichttp.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func (e *Exporter) withMeter(meter metric.Meter) (*Exporter, error) {
	var err error
	e.subTotal, err = meter.Int64Counter("gatortree.sub_total", metric.WithDescription("leaves observed under this subtree"))
	if err != nil {
		return nil, err
	}
	e.subActive, err = meter.Int64UpDownCounter("gatortree.sub_active", metric.WithDescription("children currently LAUNCHED or STARTED"))
	if err != nil {
		return nil, err
	}
	e.subPassed, err = meter.Int64Counter("gatortree.sub_passed", metric.WithDescription("children completed with SUCCESS"))
	if err != nil {
		return nil, err
	}
	e.subFailed, err = meter.Int64Counter("gatortree.sub_failed", metric.WithDescription("children completed with FAILURE or ABORTED"))
	if err != nil {
		return nil, err
	}
	e.jobExit, err = meter.Int64Counter("gatortree.job_exit", metric.WithDescription("terminal job exits by result"))
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ObserveAggregate adds a tier's aggregate snapshot to the cumulative
// sub_* counters; each call adds the values passed, so callers report a
// tier's final aggregate once, after its run.
func (e *Exporter) ObserveAggregate(ctx context.Context, subTotal, subActive, subPassed, subFailed int64) {
	e.subTotal.Add(ctx, subTotal)
	e.subActive.Add(ctx, subActive)
	e.subPassed.Add(ctx, subPassed)
	e.subFailed.Add(ctx, subFailed)
}

// ObserveJobExit records one wrapper's terminal result.
func (e *Exporter) ObserveJobExit(ctx context.Context, result string) {
	e.jobExit.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Shutdown flushes any pending metrics and releases the exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.shutdown(ctx)
}
