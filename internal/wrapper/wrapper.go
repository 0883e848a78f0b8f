// Package wrapper implements the leaf supervisor from §4.5: one wrapper
// owns exactly one child process, its log store, output parser,
// resource sampler, and websocket endpoint. States progress INIT→
// CONNECT→EXEC→MONITOR→REPORT→EXIT; the allowedTransitions table below
// lists those steps and CanTransition checks a pair against it, while
// Run walks the steps in order without recording a state.
package wrapper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/bc-dunia/gatortree/internal/capture"
	"github.com/bc-dunia/gatortree/internal/config"
	"github.com/bc-dunia/gatortree/internal/gatorerr"
	"github.com/bc-dunia/gatortree/internal/logstore"
	"github.com/bc-dunia/gatortree/internal/otelwire"
	"github.com/bc-dunia/gatortree/internal/protocol"
	"github.com/bc-dunia/gatortree/internal/sampler"
	"github.com/bc-dunia/gatortree/internal/specdom"
	"github.com/bc-dunia/gatortree/internal/specyaml"
	"github.com/bc-dunia/gatortree/internal/wsconn"
)

// State is the wrapper's own lifecycle state.
type State string

const (
	StateInit    State = "INIT"
	StateConnect State = "CONNECT"
	StateExec    State = "EXEC"
	StateMonitor State = "MONITOR"
	StateReport  State = "REPORT"
	StateExit    State = "EXIT"
)

var allowedTransitions = map[State]map[State]struct{}{
	StateInit:    {StateConnect: {}},
	StateConnect: {StateExec: {}},
	StateExec:    {StateMonitor: {}},
	StateMonitor: {StateReport: {}},
	StateReport:  {StateExit: {}},
}

// CanTransition reports whether a wrapper lifecycle transition is valid.
func CanTransition(from, to State) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

const (
	updateInterval = config.DefaultUpdateInterval

	// Shutdown ladder from §4.5 REPORT: wait for natural exit, then
	// SIGTERM, then SIGKILL.
	naturalExitGrace = config.DefaultNaturalExitGrace
	termGrace        = config.DefaultTermGrace

	completeAckTimeout = config.DefaultCompleteAckTimeout
)

// Config configures one Wrapper.
type Config struct {
	Ident      string
	ListenAddr string
	ParentURL  string
	ArrayIndex int
	HasIndex   bool
	LogPath    string
	Logger     *slog.Logger
	DialConfig wsconn.DialConfig
}

// Wrapper supervises exactly one job process.
type Wrapper struct {
	cfg    Config
	logger *slog.Logger

	server *wsconn.Server
	store  *logstore.Store

	dispatcher *protocol.Dispatcher

	mu          sync.Mutex
	userMetrics map[string]int64
	msgCounts   map[string]int64
	cpuMax      float64
	rssMax      uint64
	stopping    bool

	upConn *wsconn.Conn
	cmd    *exec.Cmd
	job    *specdom.Job

	stopCh chan struct{}
}

// New constructs a Wrapper ready to Run.
func New(cfg Config) (*Wrapper, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	store, err := logstore.Open(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("open wrapper log store: %w", err)
	}
	w := &Wrapper{
		cfg:         cfg,
		logger:      cfg.Logger.With("component", "wrapper", "ident", cfg.Ident),
		store:       store,
		userMetrics: make(map[string]int64),
		msgCounts:   make(map[string]int64),
		stopCh:      make(chan struct{}),
	}
	w.dispatcher = w.buildDispatcher()
	return w, nil
}

// Outcome is the wrapper's terminal result.
type Outcome struct {
	Result   string // "SUCCESS" or "FAILURE"
	ExitCode int
	DBFile   string
}

// Run drives the wrapper through its full lifecycle and returns its
// terminal Outcome.
func (w *Wrapper) Run(ctx context.Context) (Outcome, error) {
	defer w.store.Close()

	server, err := wsconn.NewServer(w.cfg.ListenAddr, w.logger, w.handleConn)
	if err != nil {
		return Outcome{}, fmt.Errorf("bind wrapper server: %w", err)
	}
	w.server = server
	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	go func() { _ = server.Serve(serveCtx) }()

	conn, err := w.connect(ctx)
	if err != nil {
		return Outcome{}, err
	}
	w.mu.Lock()
	w.upConn = conn
	w.mu.Unlock()
	defer conn.Close()

	job, err := w.fetchSpec(ctx, conn)
	if err != nil {
		return Outcome{}, err
	}
	w.job = job
	env := buildEnv(job, "ws://"+w.server.Addr()+"/", w.cfg.Ident, w.cfg.ArrayIndex, w.cfg.HasIndex)

	cmd, stdout, stderr, err := w.startChild(job, env)
	if err != nil {
		return Outcome{}, err
	}
	w.cmd = cmd

	w.runMonitor(ctx, stdout, stderr)

	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-exitCh:
	case <-w.stopCh:
		waitErr = w.shutdownLadder(cmd, exitCh)
	}

	outcome := w.computeOutcome(cmd, waitErr)
	w.sendCompleteUp(ctx, outcome)
	return outcome, nil
}

func (w *Wrapper) connect(ctx context.Context) (*wsconn.Conn, error) {
	cfg := w.cfg.DialConfig
	if cfg == (wsconn.DialConfig{}) {
		cfg = wsconn.DefaultDialConfig()
	}
	conn, err := wsconn.Dial(ctx, w.cfg.ParentURL, cfg)
	if err != nil {
		return nil, gatorerr.NewTransportError(w.cfg.Ident, "connect to parent", err)
	}
	reg := map[string]string{"ident": w.cfg.Ident, "server": w.server.Addr()}
	if err := sendRequest(ctx, w.cfg.Ident, conn, "register", false, reg, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("register with parent: %w", err)
	}
	return conn, nil
}

func (w *Wrapper) fetchSpec(ctx context.Context, conn *wsconn.Conn) (*specdom.Job, error) {
	var out struct {
		Spec string `json:"spec"`
	}
	if err := sendRequest(ctx, w.cfg.Ident, conn, "spec", false, map[string]string{"ident": w.cfg.Ident}, &out); err != nil {
		return nil, fmt.Errorf("fetch spec: %w", err)
	}
	node, err := specyaml.Decode([]byte(out.Spec))
	if err != nil {
		return nil, fmt.Errorf("decode fetched spec: %w", err)
	}
	job, ok := node.(*specdom.Job)
	if !ok {
		return nil, fmt.Errorf("fetched spec for %q is not a Job (kind %s)", w.cfg.Ident, node.Kind())
	}
	return job, nil
}

func (w *Wrapper) runMonitor(ctx context.Context, stdout, stderr io.Reader) {
	lines := make(chan capture.LogLine, config.DefaultLogChannelBufferSize)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p := capture.NewParser(capture.SeverityInfo, nil)
		_ = p.Run(stdout, lines)
	}()
	go func() {
		defer wg.Done()
		p := capture.NewParser(capture.SeverityError, nil)
		_ = p.Run(stderr, lines)
	}()
	go func() {
		wg.Wait()
		close(lines)
	}()

	if samp, err := sampler.New(w.childPID(), w.onSample); err == nil {
		go samp.Run(ctx)
	} else {
		w.logger.Warn("resource sampler unavailable", "error", err)
	}

	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			w.onLine(ctx, line)
		case <-ticker.C:
			w.sendUpdateUp(ctx)
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		}
	}
}

func (w *Wrapper) childPID() int32 {
	if w.cmd == nil || w.cmd.Process == nil {
		return 0
	}
	return int32(w.cmd.Process.Pid)
}

func (w *Wrapper) onSample(s sampler.Sample) {
	w.mu.Lock()
	if s.CPUPercent > w.cpuMax {
		w.cpuMax = s.CPUPercent
	}
	if s.RSSBytes > w.rssMax {
		w.rssMax = s.RSSBytes
	}
	w.mu.Unlock()
	_ = w.store.AppendResource(context.Background(), s.Timestamp, s.CPUPercent, int64(s.RSSBytes))
}

func (w *Wrapper) onLine(ctx context.Context, line capture.LogLine) {
	ts := time.Now().Unix()
	_ = w.store.AppendLog(ctx, ts, int(line.Severity), line.Message)

	w.mu.Lock()
	w.msgCounts[msgCounterName(line.Severity)]++
	w.mu.Unlock()

	if conn := w.currentUpConn(); conn != nil {
		payload := map[string]interface{}{"timestamp": ts, "severity": int(line.Severity), "message": line.Message}
		_ = sendRequest(ctx, w.cfg.Ident, conn, "log", true, payload, nil)
	}
}

func msgCounterName(s capture.Severity) string {
	switch s {
	case capture.SeverityDebug:
		return "msg_debug"
	case capture.SeverityInfo:
		return "msg_info"
	case capture.SeverityWarning:
		return "msg_warning"
	case capture.SeverityError:
		return "msg_error"
	case capture.SeverityCritical:
		return "msg_critical"
	default:
		return "msg_unknown"
	}
}

func (w *Wrapper) currentUpConn() *wsconn.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.upConn
}

func (w *Wrapper) metricsSnapshot() map[string]int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int64, len(w.userMetrics)+len(w.msgCounts)+2)
	for k, v := range w.userMetrics {
		out[k] = v
	}
	for k, v := range w.msgCounts {
		out[k] = v
	}
	out["cpu_percent_max"] = int64(w.cpuMax)
	out["rss_bytes_max"] = int64(w.rssMax)
	return out
}

func (w *Wrapper) sendUpdateUp(ctx context.Context) {
	conn := w.currentUpConn()
	if conn == nil {
		return
	}
	payload := map[string]interface{}{"ident": w.cfg.Ident, "metrics": w.metricsSnapshot()}
	if err := sendRequest(ctx, w.cfg.Ident, conn, "update", true, payload, nil); err != nil {
		w.logger.Warn("update to parent failed", "error", err)
	}
}

func (w *Wrapper) computeOutcome(cmd *exec.Cmd, waitErr error) Outcome {
	code := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	hasError, _ := w.store.HasErrorOrAbove()
	result := "SUCCESS"
	if code != 0 || hasError {
		result = "FAILURE"
	}
	return Outcome{Result: result, ExitCode: code, DBFile: w.store.Path()}
}

func (w *Wrapper) sendCompleteUp(ctx context.Context, outcome Outcome) {
	conn := w.currentUpConn()
	if conn == nil {
		return
	}
	payload := map[string]interface{}{
		"ident": w.cfg.Ident, "result": outcome.Result, "code": outcome.ExitCode,
		"metrics": w.metricsSnapshot(), "db_file": outcome.DBFile,
	}
	done := make(chan error, 1)
	go func() { done <- sendRequest(ctx, w.cfg.Ident, conn, "complete", false, payload, nil) }()
	select {
	case err := <-done:
		if err != nil {
			w.logger.Warn("complete to parent failed", "error", err)
		}
	case <-time.After(completeAckTimeout):
		w.logger.Warn("complete to parent not acknowledged", "timeout", completeAckTimeout)
	}
}

// sendRequest sends a request over conn and, unless posted, decodes the
// success response payload into out (if out is non-nil). The round trip
// runs inside a client span so req_id correlates to the parent tier's
// server span for the same action.
func sendRequest(ctx context.Context, ident string, conn *wsconn.Conn, action string, posted bool, payload interface{}, out interface{}) error {
	ctx, span := otelwire.GetGlobalTracer().StartRPCSpan(ctx, action, ident, trace.SpanKindClient)
	defer span.End()

	req, err := protocol.NewRequest(action, 1, posted, payload)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := conn.WriteJSON(req); err != nil {
		span.RecordError(err)
		return err
	}
	if posted {
		return nil
	}
	raw, err := conn.ReadMessage()
	if err != nil {
		span.RecordError(err)
		return err
	}
	_, resp, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if resp == nil {
		err := fmt.Errorf("action %q: expected response, got request", action)
		span.RecordError(err)
		return err
	}
	if !resp.IsSuccess() {
		err := fmt.Errorf("action %q failed: %s", action, resp.Reason)
		span.RecordError(err)
		return err
	}
	if out != nil {
		return resp.DecodePayload(out)
	}
	return nil
}
