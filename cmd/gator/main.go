// Command gator is the single binary that plays every role in an
// overlay tree: invoked with no -parent it bootstraps a spec file as
// the root tier; invoked with -mode=tier or -mode=wrapper and -parent
// set, it is a child a tier's scheduler just launched (see
// internal/scheduler/local.ForkExec, which re-execs this same binary).
// One binary covers every role since they all share one protocol and
// one websocket transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bc-dunia/gatortree/internal/bootstrap"
	"github.com/bc-dunia/gatortree/internal/config"
	"github.com/bc-dunia/gatortree/internal/gatorerr"
	"github.com/bc-dunia/gatortree/internal/otelwire"
	"github.com/bc-dunia/gatortree/internal/scheduler/local"
	"github.com/bc-dunia/gatortree/internal/tier"
	"github.com/bc-dunia/gatortree/internal/wrapper"
	"github.com/bc-dunia/gatortree/internal/wsconn"
)

func main() {
	mode := flag.String("mode", "root", "Process role: root, tier, wrapper")
	specPath := flag.String("spec", "", "Path to the spec YAML file (root mode only)")
	parent := flag.String("parent", "", "Parent websocket URL (tier/wrapper mode)")
	ident := flag.String("ident", "", "This process's ident within its parent (tier/wrapper mode)")
	listen := flag.String("listen", config.DefaultListenAddr, "Address this process binds its websocket server to")
	logPath := flag.String("log", "", "Path to this process's sqlite log store (defaults to <ident>.db, or gatortree-root-<uuid>.db for root)")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP metrics endpoint for the otlp-grpc/otlp-http exporters")
	otlpExporter := flag.String("otlp-exporter", "", "Metrics exporter: none, stdout, otlp-grpc, otlp-http")
	flag.Parse()

	logger := slog.Default()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	otelCfg := otelwire.Config{
		Ident:        *ident,
		Mode:         *mode,
		OTLPEndpoint: *otlpEndpoint,
		ExporterType: otelwire.ExporterType(*otlpExporter),
	}
	if otelCfg.ExporterType != "" && otelCfg.ExporterType != otelwire.ExporterNone {
		otelCfg.Enabled = true
	}

	var code int
	switch *mode {
	case "root":
		code = runRoot(ctx, logger, *specPath, *logPath, *listen, otelCfg)
	case "tier":
		code = runTier(ctx, logger, *ident, *parent, *logPath, *listen, otelCfg)
	case "wrapper":
		code = runWrapper(ctx, logger, *ident, *parent, *logPath, *listen, otelCfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode %q: must be root, tier, or wrapper\n", *mode)
		code = 1
	}
	os.Exit(code)
}

func runRoot(ctx context.Context, logger *slog.Logger, specPath, logPath, listen string, otelCfg otelwire.Config) int {
	if specPath == "" {
		fmt.Fprintln(os.Stderr, "-spec is required in root mode")
		return 3
	}
	result, err := bootstrap.Run(ctx, bootstrap.Options{
		SpecPath:   specPath,
		LogPath:    logPath,
		ListenAddr: listen,
		Logger:     logger,
		Otel:       otelCfg,
	})
	if err != nil {
		logger.Error("root run failed", "error", err)
	}
	return result.ExitCode
}

func runTier(ctx context.Context, logger *slog.Logger, ident, parent, logPath, listen string, otelCfg otelwire.Config) int {
	if ident == "" || parent == "" {
		fmt.Fprintln(os.Stderr, "-ident and -parent are required in tier mode")
		return 3
	}

	spec, err := tier.FetchChildSpec(ctx, parent, ident, wsconn.DefaultDialConfig())
	if err != nil {
		logger.Error("fetch spec failed", "ident", ident, "error", err)
		return gatorerr.ExitCode(err)
	}

	if logPath == "" {
		logPath = ident + ".db"
	}
	t, err := tier.New(tier.Config{
		Ident:      ident,
		ListenAddr: listen,
		ParentURL:  parent,
		Spec:       spec,
		LogPath:    logPath,
		Scheduler:  local.NewForkExec(),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("construct tier failed", "ident", ident, "error", err)
		return 1
	}

	exporter, err := otelwire.New(ctx, otelCfg)
	if err != nil {
		logger.Error("build metrics exporter failed", "ident", ident, "error", err)
		return 1
	}
	defer exporter.Shutdown(ctx)

	tracer, err := otelwire.NewTracer(ctx, otelCfg)
	if err != nil {
		logger.Error("build trace exporter failed", "ident", ident, "error", err)
		return 1
	}
	otelwire.SetGlobalTracer(tracer)
	defer tracer.Shutdown(ctx)

	outcome, err := t.Run(ctx)
	if err != nil {
		logger.Error("tier run failed", "ident", ident, "error", err)
		return gatorerr.ExitCode(err)
	}
	agg := t.Aggregate()
	exporter.ObserveAggregate(ctx, agg.SubTotal, agg.SubActive, agg.SubPassed, agg.SubFailed)
	return outcome.ExitCode
}

func runWrapper(ctx context.Context, logger *slog.Logger, ident, parent, logPath, listen string, otelCfg otelwire.Config) int {
	if ident == "" || parent == "" {
		fmt.Fprintln(os.Stderr, "-ident and -parent are required in wrapper mode")
		return 3
	}
	if logPath == "" {
		logPath = ident + ".db"
	}

	w, err := wrapper.New(wrapper.Config{
		Ident:      ident,
		ListenAddr: listen,
		ParentURL:  parent,
		LogPath:    logPath,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("construct wrapper failed", "ident", ident, "error", err)
		return 1
	}

	exporter, err := otelwire.New(ctx, otelCfg)
	if err != nil {
		logger.Error("build metrics exporter failed", "ident", ident, "error", err)
		return 1
	}
	defer exporter.Shutdown(ctx)

	tracer, err := otelwire.NewTracer(ctx, otelCfg)
	if err != nil {
		logger.Error("build trace exporter failed", "ident", ident, "error", err)
		return 1
	}
	otelwire.SetGlobalTracer(tracer)
	defer tracer.Shutdown(ctx)

	outcome, err := w.Run(ctx)
	if err != nil {
		logger.Error("wrapper run failed", "ident", ident, "error", err)
		return gatorerr.ExitCode(err)
	}
	exporter.ObserveJobExit(ctx, outcome.Result)
	if outcome.Result == "SUCCESS" {
		return 0
	}
	if outcome.ExitCode != 0 {
		return outcome.ExitCode
	}
	return 1
}
