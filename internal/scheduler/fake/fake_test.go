package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bc-dunia/gatortree/internal/scheduler"
)

func TestSchedulerUsesPerIdentRun(t *testing.T) {
	s := NewScheduler()
	s.Runs["a"] = func(ctx context.Context, spec scheduler.ChildSpec) int { return 3 }
	s.Default = func(ctx context.Context, spec scheduler.ChildSpec) int { return 0 }

	h, err := s.Launch(context.Background(), scheduler.ChildSpec{Ident: "a"})
	require.NoError(t, err)
	code, err := h.WaitForExit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, code)
}

func TestSchedulerFallsBackToDefault(t *testing.T) {
	s := NewScheduler()
	s.Default = func(ctx context.Context, spec scheduler.ChildSpec) int { return 0 }

	h, err := s.Launch(context.Background(), scheduler.ChildSpec{Ident: "b"})
	require.NoError(t, err)
	code, err := h.WaitForExit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, code)
}

func TestSchedulerTerminateCancelsContext(t *testing.T) {
	s := NewScheduler()
	started := make(chan struct{})
	s.Default = func(ctx context.Context, spec scheduler.ChildSpec) int {
		close(started)
		<-ctx.Done()
		return -1
	}

	h, err := s.Launch(context.Background(), scheduler.ChildSpec{Ident: "c"})
	require.NoError(t, err)
	<-started
	require.NoError(t, h.Terminate())

	code, err := h.WaitForExit(context.Background())
	require.NoError(t, err)
	require.Equal(t, -1, code)
}

func TestSchedulerRecordsLaunched(t *testing.T) {
	s := NewScheduler()
	s.Default = func(ctx context.Context, spec scheduler.ChildSpec) int { return 0 }

	_, err := s.Launch(context.Background(), scheduler.ChildSpec{Ident: "x"})
	require.NoError(t, err)
	_, err = s.Launch(context.Background(), scheduler.ChildSpec{Ident: "y"})
	require.NoError(t, err)

	launched := s.Launched()
	require.Len(t, launched, 2)
	require.Equal(t, "x", launched[0].Ident)
	require.Equal(t, "y", launched[1].Ident)
}
