// Package scheduler defines the replaceable launch adapter §4.10
// requires: a tier launches children through a Scheduler without caring
// whether they land on this machine, a remote worker pool, or a fake in
// a test, generalized from "lease a remote worker" to "launch and
// track a child process".
package scheduler

import "context"

// ChildSpec describes one child a tier wants launched: the mode it
// should run in (tier or wrapper), its ident within the parent, and the
// environment/working directory to launch with.
type ChildSpec struct {
	Ident   string
	Mode    string // "tier" or "wrapper"
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
	Parent  string // upward websocket address the child dials back to
}

// Handle represents one launched child, however it was launched.
type Handle interface {
	// Terminate requests the child stop, e.g. by signal.
	Terminate() error
	// WaitForExit blocks until the child has exited, returning its exit
	// code, or ctx's error if ctx is canceled first.
	WaitForExit(ctx context.Context) (int, error)
}

// Scheduler launches a child described by spec and returns a Handle to
// track it. Implementations may launch a local subprocess (see
// internal/scheduler/local) or substitute a fake for tests (see
// internal/scheduler/fake).
type Scheduler interface {
	Launch(ctx context.Context, spec ChildSpec) (Handle, error)
}
