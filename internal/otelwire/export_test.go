package otelwire

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledExporterIsNoop(t *testing.T) {
	e, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	e.ObserveAggregate(context.Background(), 3, 1, 2, 0)
	e.ObserveJobExit(context.Background(), "SUCCESS")
	assert.NoError(t, e.Shutdown(context.Background()))
}

func TestNewStdoutExporterRecordsWithoutError(t *testing.T) {
	e, err := New(context.Background(), Config{
		Enabled: true, Ident: "root", Mode: "tier", ExporterType: ExporterStdout,
	})
	require.NoError(t, err)

	e.ObserveAggregate(context.Background(), 5, 0, 5, 0)
	e.ObserveJobExit(context.Background(), "FAILURE")
	assert.NoError(t, e.Shutdown(context.Background()))
}
