// Package local implements a scheduler.Scheduler that launches children
// as subprocesses of the current binary, re-exec'd with -mode=tier or
// -mode=wrapper, tracking each one with a connect-back grace timer
// below.
package local

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bc-dunia/gatortree/internal/config"
	"github.com/bc-dunia/gatortree/internal/scheduler"
)

// ConnectBackGrace is how long a launched child has to dial back and
// send its `register` action before it is declared lost, per §4.10.
var ConnectBackGrace = config.DefaultConnectBackGrace

// ForkExec launches children as subprocesses of the running binary.
type ForkExec struct {
	// Executable overrides os.Executable for tests; nil uses the real
	// running binary.
	Executable func() (string, error)
}

// NewForkExec returns a ForkExec using the real running binary.
func NewForkExec() *ForkExec {
	return &ForkExec{Executable: os.Executable}
}

func (f *ForkExec) executable() (string, error) {
	if f.Executable != nil {
		return f.Executable()
	}
	return os.Executable()
}

// Launch starts spec as a subprocess, re-exec'ing the current binary
// with -mode/-ident/-parent flags.
func (f *ForkExec) Launch(ctx context.Context, spec scheduler.ChildSpec) (scheduler.Handle, error) {
	bin, err := f.executable()
	if err != nil {
		return nil, fmt.Errorf("resolve scheduler executable: %w", err)
	}

	args := append([]string{
		"-mode", spec.Mode,
		"-ident", spec.Ident,
		"-parent", spec.Parent,
	}, spec.Args...)

	cmd := exec.Command(bin, args...)
	cmd.Dir = spec.Cwd
	cmd.Env = envSlice(spec.Env)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch child %q: %w", spec.Ident, err)
	}

	h := &Handle{cmd: cmd, exitCh: make(chan exitResult, 1)}
	go h.wait()
	h.armConnectBackTimer()
	return h, nil
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return os.Environ()
	}
	out := os.Environ()
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

type exitResult struct {
	code int
	err  error
}

// Handle tracks one launched subprocess and its connect-back deadline.
type Handle struct {
	cmd    *exec.Cmd
	exitCh chan exitResult

	mu         sync.Mutex
	registered bool
	timer      *time.Timer
	aborted    bool
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			h.exitCh <- exitResult{code: -1, err: err}
			return
		}
	}
	h.exitCh <- exitResult{code: code}
}

func (h *Handle) armConnectBackTimer() {
	h.mu.Lock()
	h.timer = time.AfterFunc(ConnectBackGrace, h.onConnectBackTimeout)
	h.mu.Unlock()
}

func (h *Handle) onConnectBackTimeout() {
	h.mu.Lock()
	if h.registered {
		h.mu.Unlock()
		return
	}
	h.aborted = true
	h.mu.Unlock()
	_ = h.Terminate()
}

// MarkRegistered cancels the connect-back timer; call it once the
// child's `register` action is received over the upward connection.
func (h *Handle) MarkRegistered() {
	h.mu.Lock()
	h.registered = true
	timer := h.timer
	h.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// Aborted reports whether the child was killed for failing to connect
// back within ConnectBackGrace.
func (h *Handle) Aborted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aborted
}

// Terminate signals the child process to stop.
func (h *Handle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// WaitForExit blocks for the child's exit code, or ctx's error.
func (h *Handle) WaitForExit(ctx context.Context) (int, error) {
	select {
	case res := <-h.exitCh:
		return res.code, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
