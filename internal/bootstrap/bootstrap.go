// Package bootstrap wires together the root one-shot invocation: read a
// job tree definition from disk, decode it, and drive a root tier.Tier
// to completion.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/bc-dunia/gatortree/internal/config"
	"github.com/bc-dunia/gatortree/internal/gatorerr"
	"github.com/bc-dunia/gatortree/internal/otelwire"
	"github.com/bc-dunia/gatortree/internal/scheduler/local"
	"github.com/bc-dunia/gatortree/internal/specyaml"
	"github.com/bc-dunia/gatortree/internal/tier"
)

// Options configures the root invocation.
type Options struct {
	SpecPath   string
	LogPath    string
	ListenAddr string
	Logger     *slog.Logger
	Otel       otelwire.Config
}

// Result is what the caller (cmd/gator) needs to pick a process exit
// code.
type Result struct {
	Outcome  tier.Outcome
	ExitCode int
}

// Run reads and decodes the spec file at opts.SpecPath, constructs a
// root tier (no ParentURL), and drives it to completion, per §6's exit
// code table: 0 SUCCESS, 1 FAILURE, 2 connect failure, 3 spec error.
func Run(ctx context.Context, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(opts.SpecPath)
	if err != nil {
		specErr := gatorerr.NewSpecError("root", fmt.Sprintf("read spec file %q", opts.SpecPath), err)
		return Result{ExitCode: gatorerr.ExitCode(specErr)}, specErr
	}
	root, err := specyaml.Decode(data)
	if err != nil {
		specErr := gatorerr.NewSpecError("root", "decode spec file", err)
		return Result{ExitCode: gatorerr.ExitCode(specErr)}, specErr
	}

	logPath := opts.LogPath
	if logPath == "" {
		// Every root invocation shares "root" as its ident, so a random
		// suffix keeps concurrent runs from colliding on one db file.
		logPath = fmt.Sprintf("gatortree-root-%s.db", uuid.NewString())
	}
	listenAddr := opts.ListenAddr
	if listenAddr == "" {
		listenAddr = config.DefaultListenAddr
	}

	exporter, err := otelwire.New(ctx, opts.Otel)
	if err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("build metrics exporter: %w", err)
	}
	defer exporter.Shutdown(ctx)

	tracer, err := otelwire.NewTracer(ctx, opts.Otel)
	if err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("build trace exporter: %w", err)
	}
	otelwire.SetGlobalTracer(tracer)
	defer tracer.Shutdown(ctx)

	t, err := tier.New(tier.Config{
		Ident:      "root",
		ListenAddr: listenAddr,
		Spec:       root,
		LogPath:    logPath,
		Scheduler:  local.NewForkExec(),
		Logger:     logger,
	})
	if err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("construct root tier: %w", err)
	}

	outcome, err := t.Run(ctx)
	if err != nil {
		return Result{ExitCode: gatorerr.ExitCode(err)}, err
	}

	agg := t.Aggregate()
	exporter.ObserveAggregate(ctx, agg.SubTotal, agg.SubActive, agg.SubPassed, agg.SubFailed)

	code := outcome.ExitCode
	return Result{Outcome: outcome, ExitCode: code}, nil
}
