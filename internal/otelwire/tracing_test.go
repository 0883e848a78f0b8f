package otelwire

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/trace"
)

func TestNewDisabledTracerIsNoop(t *testing.T) {
	tr, err := NewTracer(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, tr.Enabled())

	_, span := tr.StartRPCSpan(context.Background(), "update", "a", trace.SpanKindClient)
	span.End()
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestNewStdoutTracerRecordsWithoutError(t *testing.T) {
	tr, err := NewTracer(context.Background(), Config{
		Enabled: true, Ident: "root", Mode: "tier", ExporterType: ExporterStdout,
	})
	require.NoError(t, err)
	assert.True(t, tr.Enabled())

	_, span := tr.StartRPCSpan(context.Background(), "complete", "root", trace.SpanKindServer)
	span.End()
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestGlobalTracerDefaultsToNoop(t *testing.T) {
	SetGlobalTracer(nil)
	got := GetGlobalTracer()
	require.NotNil(t, got)
	assert.False(t, got.Enabled())
}
