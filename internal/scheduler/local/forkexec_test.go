package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bc-dunia/gatortree/internal/scheduler"
)

func fakeExecutable(t *testing.T) func() (string, error) {
	t.Helper()
	// The launcher prepends -mode/-ident/-parent (six arguments); this
	// script drops them and hands the rest to /bin/sh.
	script := filepath.Join(t.TempDir(), "fake-gator")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nshift 6\nexec /bin/sh \"$@\"\n"), 0o755))
	return func() (string, error) { return script, nil }
}

func TestLaunchReportsExitCode(t *testing.T) {
	f := &ForkExec{Executable: fakeExecutable(t)}
	h, err := f.Launch(context.Background(), scheduler.ChildSpec{
		Ident: "a", Mode: "wrapper",
		Args: []string{"-c", "exit 0"},
	})
	require.NoError(t, err)

	code, err := h.WaitForExit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, code)
}

func TestLaunchReportsNonZeroExitCode(t *testing.T) {
	f := &ForkExec{Executable: fakeExecutable(t)}
	h, err := f.Launch(context.Background(), scheduler.ChildSpec{
		Ident: "a", Mode: "wrapper",
		Args: []string{"-c", "exit 7"},
	})
	require.NoError(t, err)

	code, err := h.WaitForExit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, code)
}

func TestMarkRegisteredCancelsConnectBackTimer(t *testing.T) {
	orig := ConnectBackGrace
	ConnectBackGrace = 20 * time.Millisecond
	defer func() { ConnectBackGrace = orig }()

	f := &ForkExec{Executable: fakeExecutable(t)}
	h, err := f.Launch(context.Background(), scheduler.ChildSpec{
		Ident: "a", Mode: "wrapper",
		Args: []string{"-c", "sleep 1"},
	})
	require.NoError(t, err)

	handle := h.(*Handle)
	handle.MarkRegistered()
	time.Sleep(50 * time.Millisecond)
	require.False(t, handle.Aborted())

	_ = handle.Terminate()
}

func TestConnectBackTimeoutAbortsUnregisteredChild(t *testing.T) {
	orig := ConnectBackGrace
	ConnectBackGrace = 20 * time.Millisecond
	defer func() { ConnectBackGrace = orig }()

	f := &ForkExec{Executable: fakeExecutable(t)}
	h, err := f.Launch(context.Background(), scheduler.ChildSpec{
		Ident: "a", Mode: "wrapper",
		Args: []string{"-c", "sleep 5"},
	})
	require.NoError(t, err)

	handle := h.(*Handle)
	require.Eventually(t, handle.Aborted, time.Second, 5*time.Millisecond)
}
