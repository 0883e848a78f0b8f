package wrapper

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bc-dunia/gatortree/internal/capture"
	"github.com/bc-dunia/gatortree/internal/protocol"
	"github.com/bc-dunia/gatortree/internal/specdom"
	"github.com/bc-dunia/gatortree/internal/specyaml"
	"github.com/bc-dunia/gatortree/internal/wsconn"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeParent is a minimal stand-in for a tier's inbound dispatcher: it
// answers spec/register/update/complete exactly as a real tier would
// for a single known child, and records the terminal complete payload.
type fakeParent struct {
	t        *testing.T
	server   *wsconn.Server
	job      specdom.Node
	ident    string
	completeCh chan map[string]interface{}
	updates  chan map[string]interface{}
}

func newFakeParent(t *testing.T, ident string, job specdom.Node) *fakeParent {
	fp := &fakeParent{t: t, job: job, ident: ident, completeCh: make(chan map[string]interface{}, 1), updates: make(chan map[string]interface{}, 16)}
	server, err := wsconn.NewServer("127.0.0.1:0", discardLogger(), fp.handleConn)
	require.NoError(t, err)
	fp.server = server
	return fp
}

func (fp *fakeParent) handleConn(ctx context.Context, conn *wsconn.Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, _, err := protocol.DecodeEnvelope(raw)
		if err != nil || req == nil {
			continue
		}
		switch req.Action {
		case "register":
			resp, _ := protocol.SuccessResponse(req.Action, req.ReqID, map[string]interface{}{})
			_ = conn.WriteJSON(resp)
		case "spec":
			out, err := specyaml.Marshal(fp.job)
			require.NoError(fp.t, err)
			resp, _ := protocol.SuccessResponse(req.Action, req.ReqID, map[string]string{"spec": string(out)})
			_ = conn.WriteJSON(resp)
		case "update":
			var p map[string]interface{}
			_ = req.DecodePayload(&p)
			select {
			case fp.updates <- p:
			default:
			}
		case "complete":
			var p map[string]interface{}
			_ = req.DecodePayload(&p)
			resp, _ := protocol.SuccessResponse(req.Action, req.ReqID, map[string]interface{}{})
			_ = conn.WriteJSON(resp)
			fp.completeCh <- p
		case "log":
			// posted, no response expected
		}
	}
}

func (fp *fakeParent) addr() string { return "ws://" + fp.server.Addr() + "/" }

func (fp *fakeParent) serve(ctx context.Context) {
	go func() { _ = fp.server.Serve(ctx) }()
}

func newTestWrapper(t *testing.T, parentURL string) *Wrapper {
	dbPath := filepath.Join(t.TempDir(), "wrapper.db")
	w, err := New(Config{
		Ident:      "job-1",
		ListenAddr: "127.0.0.1:0",
		ParentURL:  parentURL,
		LogPath:    dbPath,
		Logger:     discardLogger(),
		DialConfig: wsconn.DialConfig{MaxAttempts: 3, InitialInterval: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	return w
}

func TestWrapperRunSucceedsOnCleanExit(t *testing.T) {
	job := &specdom.Job{Ident: "job-1", Command: "/bin/sh", Args: []string{"-c", "echo hello; exit 0"}}
	fp := newFakeParent(t, "job-1", job)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fp.serve(ctx)

	w := newTestWrapper(t, fp.addr())
	runCtx, cancelRun := context.WithTimeout(ctx, 5*time.Second)
	defer cancelRun()

	outcome, err := w.Run(runCtx)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", outcome.Result)
	assert.Equal(t, 0, outcome.ExitCode)

	select {
	case complete := <-fp.completeCh:
		assert.Equal(t, "SUCCESS", complete["result"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for complete")
	}
}

func TestWrapperRunReportsFailureOnNonZeroExit(t *testing.T) {
	job := &specdom.Job{Ident: "job-1", Command: "/bin/sh", Args: []string{"-c", "exit 3"}}
	fp := newFakeParent(t, "job-1", job)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fp.serve(ctx)

	w := newTestWrapper(t, fp.addr())
	runCtx, cancelRun := context.WithTimeout(ctx, 5*time.Second)
	defer cancelRun()

	outcome, err := w.Run(runCtx)
	require.NoError(t, err)
	assert.Equal(t, "FAILURE", outcome.Result)
	assert.Equal(t, 3, outcome.ExitCode)
}

func TestWrapperRunReportsFailureOnErrorLogLine(t *testing.T) {
	job := &specdom.Job{Ident: "job-1", Command: "/bin/sh", Args: []string{"-c", "echo boom 1>&2; exit 0"}}
	fp := newFakeParent(t, "job-1", job)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fp.serve(ctx)

	w := newTestWrapper(t, fp.addr())
	runCtx, cancelRun := context.WithTimeout(ctx, 5*time.Second)
	defer cancelRun()

	outcome, err := w.Run(runCtx)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Equal(t, "FAILURE", outcome.Result, "stderr output defaults to ERROR severity and should flip the outcome")
}

func TestWrapperInjectsParentIdentAndArrayIndexEnv(t *testing.T) {
	job := &specdom.Job{Ident: "job-1", Command: "/bin/sh", Args: []string{"-c", "env"}}
	fp := newFakeParent(t, "job-1", job)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fp.serve(ctx)

	env := buildEnv(job, fp.addr(), "job-1", 2, true)
	assert.Equal(t, fp.addr(), env["GATOR_PARENT"])
	assert.Equal(t, "job-1", env["GATOR_IDENT"])
	assert.Equal(t, "2", env["GATOR_ARRAY_INDEX"])
}

func TestIsReservedMetricName(t *testing.T) {
	assert.True(t, isReservedMetricName("sub_total"))
	assert.True(t, isReservedMetricName("sub_passed"))
	assert.False(t, isReservedMetricName("custom_counter"))
	assert.False(t, isReservedMetricName("sub"))
}

func TestMsgCounterNameCoversAllSeverities(t *testing.T) {
	cases := map[int]string{
		10: "msg_debug",
		20: "msg_info",
		30: "msg_warning",
		40: "msg_error",
		50: "msg_critical",
	}
	for level, want := range cases {
		assert.Equal(t, want, msgCounterName(capture.Severity(level)))
	}
}
