package wrapper

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/bc-dunia/gatortree/internal/gatorerr"
	"github.com/bc-dunia/gatortree/internal/otelwire"
	"github.com/bc-dunia/gatortree/internal/protocol"
	"github.com/bc-dunia/gatortree/internal/specdom"
	"github.com/bc-dunia/gatortree/internal/specyaml"
	"github.com/bc-dunia/gatortree/internal/wsconn"
)

var signalTerm = syscall.SIGTERM

// buildEnv constructs a job's effective environment per §4.5 EXEC:
// overlay the spec's env{} onto the inherited environment, then inject
// GATOR_PARENT and GATOR_IDENT, plus GATOR_ARRAY_INDEX when hasIndex,
// from §6.
func buildEnv(job *specdom.Job, parentURL, ident string, arrayIndex int, hasIndex bool) map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range job.Env {
		env[k] = v
	}
	env["GATOR_PARENT"] = parentURL
	env["GATOR_IDENT"] = ident
	if hasIndex {
		env["GATOR_ARRAY_INDEX"] = strconv.Itoa(arrayIndex)
	}
	return env
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// startChild resolves env-var references in the job's command, args,
// and cwd against env (at launch time, not parse time, per §6), then
// spawns the process with piped stdout/stderr.
func (w *Wrapper) startChild(job *specdom.Job, env map[string]string) (*exec.Cmd, io.Reader, io.Reader, error) {
	command := specyaml.ExpandString(job.Command, env)
	args := specyaml.ExpandStrings(job.Args, env)
	cwd := specyaml.ExpandString(job.Cwd, env)

	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	cmd.Env = envSlice(env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("attach stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("attach stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, gatorerr.NewChildRuntimeError(w.cfg.Ident, fmt.Sprintf("spawn %q: %v", command, err))
	}
	return cmd, stdout, stderr, nil
}

// shutdownLadder implements §4.5 REPORT's graceful-then-forced
// termination: wait naturalExitGrace for a natural exit, SIGTERM, wait
// termGrace, SIGKILL. The child's stdin is the null device from launch,
// so the ladder has no stdin-closing step.
func (w *Wrapper) shutdownLadder(cmd *exec.Cmd, exitCh chan error) error {
	if cmd.Process == nil {
		return <-exitCh
	}

	select {
	case err := <-exitCh:
		return err
	case <-time.After(naturalExitGrace):
	}

	_ = cmd.Process.Signal(signalTerm)
	select {
	case err := <-exitCh:
		return err
	case <-time.After(termGrace):
	}

	_ = cmd.Process.Kill()
	return <-exitCh
}

func (w *Wrapper) buildDispatcher() *protocol.Dispatcher {
	d := protocol.NewDispatcher()
	d.Handle("metric", w.handleMetric)
	d.Handle("log", w.handleLog)
	d.Handle("stop", w.handleStop)
	return d
}

func (w *Wrapper) handleConn(ctx context.Context, conn *wsconn.Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, resp, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			errResp := protocol.ErrorResponse(0, err.Error())
			_ = conn.WriteJSON(errResp)
			continue
		}
		if resp != nil {
			continue
		}
		spanCtx, span := otelwire.GetGlobalTracer().StartRPCSpan(ctx, req.Action, w.cfg.Ident, trace.SpanKindServer)
		out := w.dispatcher.Dispatch(spanCtx, *req)
		if out != nil && !out.IsSuccess() {
			span.RecordError(fmt.Errorf("%s", out.Reason))
		}
		span.End()
		if out != nil {
			_ = conn.WriteJSON(*out)
		}
	}
}

func (w *Wrapper) handleMetric(ctx context.Context, req protocol.Request) (interface{}, error) {
	var p struct {
		Name  string `json:"name"`
		Value int64  `json:"value"`
	}
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	if isReservedMetricName(p.Name) {
		return nil, gatorerr.NewProtocolError(w.cfg.Ident, fmt.Sprintf("metric name %q is reserved", p.Name))
	}
	w.mu.Lock()
	w.userMetrics[p.Name] = p.Value
	w.mu.Unlock()
	return map[string]interface{}{}, nil
}

func isReservedMetricName(name string) bool {
	return len(name) >= 4 && name[:4] == "sub_"
}

func (w *Wrapper) handleLog(ctx context.Context, req protocol.Request) (interface{}, error) {
	var p struct {
		Timestamp int64  `json:"timestamp"`
		Severity  int    `json:"severity"`
		Message   string `json:"message"`
	}
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	if err := w.store.AppendLog(ctx, p.Timestamp, p.Severity, p.Message); err != nil {
		return nil, err
	}
	if conn := w.currentUpConn(); conn != nil {
		_ = sendRequest(ctx, w.cfg.Ident, conn, "log", true, p, nil)
	}
	return map[string]interface{}{}, nil
}

func (w *Wrapper) handleStop(ctx context.Context, req protocol.Request) (interface{}, error) {
	w.mu.Lock()
	already := w.stopping
	w.stopping = true
	w.mu.Unlock()
	if !already {
		close(w.stopCh)
	}
	return map[string]interface{}{}, nil
}
