package tier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/bc-dunia/gatortree/internal/config"
	"github.com/bc-dunia/gatortree/internal/depgraph"
	"github.com/bc-dunia/gatortree/internal/gatorerr"
	"github.com/bc-dunia/gatortree/internal/logstore"
	"github.com/bc-dunia/gatortree/internal/otelwire"
	"github.com/bc-dunia/gatortree/internal/protocol"
	"github.com/bc-dunia/gatortree/internal/scheduler"
	"github.com/bc-dunia/gatortree/internal/specdom"
	"github.com/bc-dunia/gatortree/internal/wsconn"
)

const (
	// updateInterval is the §4.6 SUPERVISE "emit update every 10s".
	updateInterval = config.DefaultUpdateInterval
	// stopGrace is the §5 cap on waiting for a STARTED child's complete
	// after a stop is forwarded, after which the scheduler is asked to
	// terminate the handle.
	stopGrace = config.DefaultStopGrace
	// downwardTimeout bounds a single downward protocol send (spec,
	// stop, get_tree) to a child.
	downwardTimeout = config.DefaultDownwardTimeout
)

// Config configures one Tier.
type Config struct {
	Ident      string
	ListenAddr string // ":0" picks an ephemeral port
	ParentURL  string // empty for the root tier
	Spec       specdom.Node
	LogPath    string
	Scheduler  scheduler.Scheduler
	Logger     *slog.Logger
	DialConfig wsconn.DialConfig
}

// Tier is the interior supervisor from §4.6, holding a scheduler, the
// §4.7 dependency resolver, and its direct children's aggregation
// table.
type Tier struct {
	cfg    Config
	logger *slog.Logger

	server *wsconn.Server
	store  *logstore.Store

	dispatcher *protocol.Dispatcher

	mu       sync.RWMutex
	state    State
	children map[string]*ChildRecord
	deps     map[string]specdom.Deps
	handles  map[string]scheduler.Handle
	stopping bool

	doneCh   chan struct{}
	doneOnce sync.Once

	upMu   sync.RWMutex
	upConn *wsconn.Conn
}

// New constructs a Tier ready to Run.
func New(cfg Config) (*Tier, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	store, err := logstore.Open(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("open tier log store: %w", err)
	}
	t := &Tier{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "tier", "ident", cfg.Ident),
		store:    store,
		children: make(map[string]*ChildRecord),
		deps:     make(map[string]specdom.Deps),
		handles:  make(map[string]scheduler.Handle),
		doneCh:   make(chan struct{}),
		state:    StateInit,
	}
	t.dispatcher = t.buildDispatcher()
	return t, nil
}

// Addr returns the tier's bound listen address, valid after Run begins
// serving.
func (t *Tier) Addr() string {
	if t.server == nil {
		return ""
	}
	return t.server.Addr()
}

func (t *Tier) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Outcome is the tier's terminal result, reported upward via `complete`
// and mapped to a process exit code by the caller.
type Outcome struct {
	Result   depgraph.Result
	ExitCode int
	DBFile   string
}

// Run drives the tier through INIT→CONNECT→EXPAND→LAUNCH→SUPERVISE→
// REPORT→EXIT and returns its terminal Outcome.
func (t *Tier) Run(ctx context.Context) (Outcome, error) {
	defer t.store.Close()

	if err := t.init(); err != nil {
		return Outcome{}, err
	}

	if t.cfg.ParentURL != "" {
		t.setState(StateConnect)
		conn, err := t.connect(ctx)
		if err != nil {
			return Outcome{}, err
		}
		t.upMu.Lock()
		t.upConn = conn
		t.upMu.Unlock()
		defer conn.Close()
	}

	t.setState(StateExpand)
	if err := t.expand(); err != nil {
		return Outcome{}, err
	}

	t.setState(StateLaunch)
	if err := t.launchInitial(ctx); err != nil {
		return Outcome{}, err
	}

	t.setState(StateSupervise)
	supCtx, cancelSup := context.WithCancel(ctx)
	defer cancelSup()
	go func() {
		_ = t.server.Serve(supCtx)
	}()

	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

supervise:
	for {
		select {
		case <-t.doneCh:
			break supervise
		case <-ticker.C:
			t.sendUpdateUp(ctx)
		case <-ctx.Done():
			break supervise
		}
	}

	t.setState(StateReport)
	outcome := t.computeOutcome()
	t.sendCompleteUp(ctx, outcome)

	t.setState(StateExit)
	return outcome, nil
}

func (t *Tier) init() error {
	addr := t.cfg.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	server, err := wsconn.NewServer(addr, t.logger, t.handleConn)
	if err != nil {
		return fmt.Errorf("bind tier server: %w", err)
	}
	t.server = server
	return nil
}

func (t *Tier) connect(ctx context.Context) (*wsconn.Conn, error) {
	cfg := t.cfg.DialConfig
	if cfg == (wsconn.DialConfig{}) {
		cfg = wsconn.DefaultDialConfig()
	}
	conn, err := wsconn.Dial(ctx, t.cfg.ParentURL, cfg)
	if err != nil {
		return nil, gatorerr.NewTransportError(t.cfg.Ident, "connect to parent", err)
	}

	reg := registerPayload{Ident: t.cfg.Ident, Server: t.server.Addr()}
	if err := sendRequest(ctx, t.cfg.Ident, conn, "register", false, reg, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("register with parent: %w", err)
	}
	return conn, nil
}

func (t *Tier) expand() error {
	children, err := specdom.Children(t.cfg.Spec)
	if err != nil {
		return fmt.Errorf("expand tier %q: %w", t.cfg.Ident, err)
	}
	if err := specdom.ValidateSiblings(children); err != nil {
		return fmt.Errorf("expand tier %q: %w", t.cfg.Ident, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range children {
		t.children[c.NodeIdent()] = &ChildRecord{
			Ident:   c.NodeIdent(),
			Spec:    c,
			State:   depgraph.StatePending,
			Result:  depgraph.ResultUnknown,
			Metrics: make(map[string]int64),
		}
		t.deps[c.NodeIdent()] = c.Dependencies()
	}
	return nil
}

func (t *Tier) launchInitial(ctx context.Context) error {
	partition := t.resolveLocked()
	return t.actOnPartition(ctx, partition)
}

// resolveLocked snapshots the child table and runs the resolver. It
// takes its own lock internally; callers must not hold t.mu.
func (t *Tier) resolveLocked() depgraph.Partition {
	t.mu.RLock()
	views := make([]depgraph.ChildState, 0, len(t.children))
	for _, c := range t.children {
		views = append(views, depgraph.ChildState{Ident: c.Ident, State: c.State, Result: c.Result})
	}
	deps := t.deps
	t.mu.RUnlock()
	return depgraph.Resolve(views, deps)
}

// actOnPartition applies partition's launch/abort decisions, then
// re-resolves and repeats until a pass produces no new decisions.
// A single resolve-then-act pass evaluates every PENDING sibling
// against one snapshot: aborting B in that pass doesn't change what
// the same pass already decided for a C depending on B, so C would
// wait forever on a child that was never going to launch. Looping to
// a fixpoint lets each abort/launch unblock the next resolve.
func (t *Tier) actOnPartition(ctx context.Context, partition depgraph.Partition) error {
	for {
		if len(partition.Abort) == 0 && len(partition.Launch) == 0 {
			break
		}
		for _, ident := range partition.Abort {
			t.abortChild(ctx, ident)
		}
		for _, ident := range partition.Launch {
			if err := t.launchChild(ctx, ident); err != nil {
				t.logger.Error("launch child failed", "ident", ident, "error", err)
				t.abortChild(ctx, ident)
			}
		}
		partition = t.resolveLocked()
	}
	t.checkDone()
	return nil
}

func (t *Tier) launchChild(ctx context.Context, ident string) error {
	t.mu.Lock()
	rec, ok := t.children[ident]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("launch unknown child %q", ident)
	}
	mode := "wrapper"
	if rec.Spec.Kind() != specdom.KindJob {
		mode = "tier"
	}
	t.mu.Unlock()

	launchCtx, cancel := context.WithTimeout(ctx, downwardTimeout)
	defer cancel()

	handle, err := t.cfg.Scheduler.Launch(launchCtx, scheduler.ChildSpec{
		Ident:  ident,
		Mode:   mode,
		Parent: t.server.Addr(),
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.children[ident].State = depgraph.StateLaunched
	t.handles[ident] = handle
	t.mu.Unlock()
	return nil
}

func (t *Tier) abortChild(ctx context.Context, ident string) {
	t.mu.Lock()
	rec, ok := t.children[ident]
	if ok {
		rec.State = depgraph.StateComplete
		rec.Result = depgraph.ResultAborted
		rec.CompletedTS = nowUnix()
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.logger.Warn("child aborted by dependency resolver", "ident", ident)
}

// checkDone closes doneCh once every child is COMPLETE (success,
// failure, or aborted), per §4.6's REPORT/EXIT trigger.
func (t *Tier) checkDone() {
	t.mu.RLock()
	allDone := true
	for _, c := range t.children {
		if c.State != depgraph.StateComplete {
			allDone = false
			break
		}
	}
	t.mu.RUnlock()
	if allDone {
		t.doneOnce.Do(func() { close(t.doneCh) })
	}
}

func (t *Tier) computeOutcome() Outcome {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := depgraph.ResultSuccess
	for _, c := range t.children {
		if c.Result != depgraph.ResultSuccess {
			result = depgraph.ResultFailure
			break
		}
	}
	code := 0
	if result != depgraph.ResultSuccess {
		code = 1
	}
	return Outcome{Result: result, ExitCode: code, DBFile: t.store.Path()}
}

type registerPayload struct {
	Ident  string `json:"ident"`
	Server string `json:"server"`
}

type updatePayload struct {
	Ident   string           `json:"ident"`
	Metrics map[string]int64 `json:"metrics"`
}

type completePayload struct {
	Ident   string           `json:"ident"`
	Result  string           `json:"result"`
	Code    int              `json:"code"`
	Metrics map[string]int64 `json:"metrics"`
	DBFile  string           `json:"db_file,omitempty"`
}

func (t *Tier) sendUpdateUp(ctx context.Context) {
	conn := t.currentUpConn()
	if conn == nil {
		return
	}
	agg := t.Aggregate()
	metrics := map[string]int64{
		"sub_total":  agg.SubTotal,
		"sub_active": agg.SubActive,
		"sub_passed": agg.SubPassed,
		"sub_failed": agg.SubFailed,
	}
	for name, value := range agg.Named {
		metrics[name] = value
	}
	payload := updatePayload{Ident: t.cfg.Ident, Metrics: metrics}
	if err := sendRequest(ctx, t.cfg.Ident, conn, "update", true, payload, nil); err != nil {
		t.logger.Warn("update to parent failed", "error", err)
	}
}

func (t *Tier) sendCompleteUp(ctx context.Context, outcome Outcome) {
	conn := t.currentUpConn()
	if conn == nil {
		return
	}
	agg := t.Aggregate()
	metrics := map[string]int64{
		"sub_total":  agg.SubTotal,
		"sub_active": agg.SubActive,
		"sub_passed": agg.SubPassed,
		"sub_failed": agg.SubFailed,
	}
	for name, value := range agg.Named {
		metrics[name] = value
	}
	resultStr := "SUCCESS"
	if outcome.Result != depgraph.ResultSuccess {
		resultStr = "FAILURE"
	}
	payload := completePayload{
		Ident: t.cfg.Ident, Result: resultStr, Code: outcome.ExitCode,
		Metrics: metrics, DBFile: outcome.DBFile,
	}
	if err := sendRequest(ctx, t.cfg.Ident, conn, "complete", false, payload, nil); err != nil {
		t.logger.Warn("complete to parent failed", "error", err)
	}
}

func (t *Tier) currentUpConn() *wsconn.Conn {
	t.upMu.RLock()
	defer t.upMu.RUnlock()
	return t.upConn
}

// Aggregate returns the tier's current §3 Aggregate metrics snapshot.
func (t *Tier) Aggregate() Aggregate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return computeAggregate(t.children)
}

// Children returns a snapshot of the tier's child records, keyed by
// ident.
func (t *Tier) Children() map[string]ChildRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]ChildRecord, len(t.children))
	for ident, c := range t.children {
		out[ident] = *c
	}
	return out
}

// sendRequest sends a request over conn and, unless posted, decodes the
// success response payload into out (if out is non-nil). It blocks on
// a single ReadMessage call per request since tier↔child connections
// are not multiplexed (§9: back-references are addresses, not
// persistent shared connections). The whole round trip runs inside a
// client span so req_id correlates to the callee's server span.
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
