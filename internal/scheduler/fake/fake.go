// Package fake provides an in-memory scheduler.Scheduler for tests,
// substituting goroutine-based fake wrappers for real subprocesses per
// §8's integration test design.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/bc-dunia/gatortree/internal/scheduler"
)

// Run is the behavior a fake launched child exhibits: it is handed a
// context (canceled on Terminate) and returns an exit code.
type Run func(ctx context.Context, spec scheduler.ChildSpec) int

// Scheduler launches each ChildSpec by invoking a Run function chosen
// via Runs, keyed by ident, falling back to Default if no per-ident
// entry exists.
type Scheduler struct {
	mu      sync.Mutex
	Runs    map[string]Run
	Default Run

	launched []scheduler.ChildSpec
}

// NewScheduler returns an empty fake scheduler; configure Runs/Default
// before use.
func NewScheduler() *Scheduler {
	return &Scheduler{Runs: make(map[string]Run)}
}

// Launched returns the specs passed to Launch, in call order.
func (s *Scheduler) Launched() []scheduler.ChildSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scheduler.ChildSpec, len(s.launched))
	copy(out, s.launched)
	return out
}

func (s *Scheduler) Launch(ctx context.Context, spec scheduler.ChildSpec) (scheduler.Handle, error) {
	s.mu.Lock()
	s.launched = append(s.launched, spec)
	run := s.Runs[spec.Ident]
	s.mu.Unlock()
	if run == nil {
		run = s.Default
	}
	if run == nil {
		return nil, fmt.Errorf("fake scheduler: no Run configured for ident %q", spec.Ident)
	}

	childCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &handle{cancel: cancel, exitCh: make(chan int, 1)}
	go func() {
		h.exitCh <- run(childCtx, spec)
	}()
	return h, nil
}

type handle struct {
	cancel context.CancelFunc
	exitCh chan int
}

func (h *handle) Terminate() error {
	h.cancel()
	return nil
}

func (h *handle) WaitForExit(ctx context.Context) (int, error) {
	select {
	case code := <-h.exitCh:
		return code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
