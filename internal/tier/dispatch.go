package tier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/bc-dunia/gatortree/internal/depgraph"
	"github.com/bc-dunia/gatortree/internal/gatorerr"
	"github.com/bc-dunia/gatortree/internal/otelwire"
	"github.com/bc-dunia/gatortree/internal/protocol"
	"github.com/bc-dunia/gatortree/internal/specdom"
	"github.com/bc-dunia/gatortree/internal/specyaml"
	"github.com/bc-dunia/gatortree/internal/wsconn"
)

func (t *Tier) buildDispatcher() *protocol.Dispatcher {
	d := protocol.NewDispatcher()
	d.Handle("spec", t.handleSpec)
	d.Handle("register", t.handleRegister)
	d.Handle("update", t.handleUpdate)
	d.Handle("complete", t.handleComplete)
	d.Handle("children", t.handleChildren)
	d.Handle("get_tree", t.handleGetTree)
	d.Handle("log", t.handleLog)
	d.Handle("stop", t.handleStop)
	return d
}

// handleConn services one accepted inbound connection (a child
// registering and reporting upward, or the parent forwarding a
// downward action) until it closes. Per §9's back-reference design,
// tier↔child connections are not persisted beyond one request/response
// pair on the child's dial-down side, but a child's own upward
// connection (used for register/update/complete/log) stays open for
// the child's lifetime.
func (t *Tier) handleConn(ctx context.Context, conn *wsconn.Conn) {
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
			// Unsolicited response on an inbound connection; ignore.
			continue
		}
		spanCtx, span := otelwire.GetGlobalTracer().StartRPCSpan(ctx, req.Action, t.cfg.Ident, trace.SpanKindServer)
		out := t.dispatcher.Dispatch(spanCtx, *req)
		if out != nil && !out.IsSuccess() {
			span.RecordError(fmt.Errorf("%s", out.Reason))
		}
		span.End()
		if out != nil {
			_ = conn.WriteJSON(*out)
		}
	}
}

func (t *Tier) handleSpec(ctx context.Context, req protocol.Request) (interface{}, error) {
	var p struct {
		Ident string `json:"ident"`
	}
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	t.mu.RLock()
	rec, ok := t.children[p.Ident]
	t.mu.RUnlock()
	if !ok {
		return nil, gatorerr.NewProtocolError(p.Ident, "spec requested for unknown child")
	}
	out, err := specyaml.Marshal(rec.Spec)
	if err != nil {
		return nil, fmt.Errorf("marshal spec for %q: %w", p.Ident, err)
	}
	return map[string]string{"spec": string(out)}, nil
}

func (t *Tier) handleRegister(ctx context.Context, req protocol.Request) (interface{}, error) {
	var p registerPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	t.mu.Lock()
	rec, ok := t.children[p.Ident]
	if !ok {
		t.mu.Unlock()
		return nil, gatorerr.NewProtocolError(p.Ident, "register for unknown child")
	}
	rec.State = depgraph.StateStarted
	rec.ServerURL = p.Server
	rec.StartedTS = nowUnix()
	handle := t.handles[p.Ident]
	t.mu.Unlock()

	if registrant, ok := handle.(interface{ MarkRegistered() }); ok {
		registrant.MarkRegistered()
	}
	return map[string]interface{}{}, nil
}

func (t *Tier) handleUpdate(ctx context.Context, req protocol.Request) (interface{}, error) {
	var p updatePayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	t.mu.Lock()
	rec, ok := t.children[p.Ident]
	if !ok {
		t.mu.Unlock()
		return nil, gatorerr.NewProtocolError(p.Ident, "update for unknown child")
	}
	if rec.State == depgraph.StatePending {
		t.mu.Unlock()
		return nil, gatorerr.NewProtocolError(p.Ident, "update from child not yet launched")
	}
	rec.Metrics = p.Metrics
	rec.UpdatedTS = nowUnix()
	t.mu.Unlock()
	return map[string]interface{}{}, nil
}

func (t *Tier) handleComplete(ctx context.Context, req protocol.Request) (interface{}, error) {
	var p completePayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	t.mu.Lock()
	rec, ok := t.children[p.Ident]
	if !ok {
		t.mu.Unlock()
		return nil, gatorerr.NewProtocolError(p.Ident, "complete for unknown child")
	}
	if rec.State == depgraph.StatePending {
		t.mu.Unlock()
		return nil, gatorerr.NewProtocolError(p.Ident, "complete from child not yet launched")
	}
	if rec.State == depgraph.StateComplete {
		t.mu.Unlock()
		return nil, gatorerr.NewProtocolError(p.Ident, "duplicate complete for already-complete child")
	}
	rec.State = depgraph.StateComplete
	if p.Result == "SUCCESS" {
		rec.Result = depgraph.ResultSuccess
	} else {
		rec.Result = depgraph.ResultFailure
	}
	rec.ExitCode = p.Code
	rec.Metrics = p.Metrics
	rec.CompletedTS = nowUnix()
	t.mu.Unlock()

	partition := t.resolveLocked()
	_ = t.actOnPartition(ctx, partition)
	return map[string]interface{}{}, nil
}

type childView struct {
	State     string           `json:"state"`
	Result    string           `json:"result"`
	Server    string           `json:"server,omitempty"`
	Metrics   map[string]int64 `json:"metrics"`
	ExitCode  int              `json:"exitcode"`
	Started   int64            `json:"started,omitempty"`
	Updated   int64            `json:"updated,omitempty"`
	Completed int64            `json:"completed,omitempty"`
}

func (t *Tier) handleChildren(ctx context.Context, req protocol.Request) (interface{}, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]childView, len(t.children))
	for ident, rec := range t.children {
		out[ident] = childView{
			State: stateNames[rec.State], Result: resultString(rec.Result),
			Server: rec.ServerURL, Metrics: rec.Metrics, ExitCode: rec.ExitCode,
			Started: rec.StartedTS, Updated: rec.UpdatedTS, Completed: rec.CompletedTS,
		}
	}
	return out, nil
}

// stateNames maps depgraph.State (PENDING=0 … COMPLETE=3) to the state
// strings the children and get_tree replies carry.
var stateNames = [...]string{"PENDING", "LAUNCHED", "STARTED", "COMPLETE"}

func resultString(r depgraph.Result) string {
	switch r {
	case depgraph.ResultSuccess:
		return "SUCCESS"
	case depgraph.ResultFailure:
		return "FAILURE"
	case depgraph.ResultAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// handleGetTree fans `get_tree` out to every tier-kind child in
// parallel per §4.3 and assembles the recursive snapshot; a leaf
// (wrapper) child contributes its state string, a timed-out child
// contributes its last-known state string.
func (t *Tier) handleGetTree(ctx context.Context, req protocol.Request) (interface{}, error) {
	t.mu.RLock()
	type entry struct {
		ident  string
		server string
		isTier bool
		state  string
	}
	entries := make([]entry, 0, len(t.children))
	for ident, rec := range t.children {
		entries = append(entries, entry{
			ident: ident, server: rec.ServerURL,
			isTier: rec.Spec.Kind() != "Job", state: stateNames[rec.State],
		})
	}
	t.mu.RUnlock()

	out := make(map[string]interface{}, len(entries))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, e := range entries {
		e := e
		if !e.isTier || e.server == "" {
			mu.Lock()
			out[e.ident] = e.state
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := fetchTree(ctx, t.cfg.Ident, e.server)
			mu.Lock()
			if err != nil {
				out[e.ident] = e.state
			} else {
				out[e.ident] = sub
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out, nil
}

func fetchTree(ctx context.Context, ident, server string) (interface{}, error) {
	dialCtx, cancel := context.WithTimeout(ctx, downwardTimeout)
	defer cancel()
	conn, err := wsconn.Dial(dialCtx, server, wsconn.DialConfig{MaxAttempts: 1})
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	var out interface{}
	if err := sendRequest(ctx, ident, conn, "get_tree", false, map[string]interface{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchChildSpec performs the one-shot dial-send-receive-close a
// child-mode tier process uses to learn its own subtree before
// constructing a Tier: dial parentURL, request `spec` for ident,
// decode the returned YAML into a Node. A wrapper fetches its Job the
// same way, in wrapper.fetchSpec over its registered upward
// connection; a child tier needs the spec
// before it can even construct its Config, so the fetch has to happen
// before tier.New rather than inside it.
func FetchChildSpec(ctx context.Context, parentURL, ident string, dialCfg wsconn.DialConfig) (specdom.Node, error) {
	if dialCfg == (wsconn.DialConfig{}) {
		dialCfg = wsconn.DefaultDialConfig()
	}
	conn, err := wsconn.Dial(ctx, parentURL, dialCfg)
	if err != nil {
		return nil, gatorerr.NewTransportError(ident, "connect to parent to fetch spec", err)
	}
	defer conn.Close()

	var out struct {
		Spec string `json:"spec"`
	}
	if err := sendRequest(ctx, ident, conn, "spec", false, map[string]string{"ident": ident}, &out); err != nil {
		return nil, fmt.Errorf("fetch spec for %q: %w", ident, err)
	}
	node, err := specyaml.Decode([]byte(out.Spec))
	if err != nil {
		return nil, fmt.Errorf("decode fetched spec for %q: %w", ident, err)
	}
	return node, nil
}

func (t *Tier) handleLog(ctx context.Context, req protocol.Request) (interface{}, error) {
	var p struct {
		Timestamp int64  `json:"timestamp"`
		Severity  int    `json:"severity"`
		Message   string `json:"message"`
	}
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	if err := t.store.AppendLog(ctx, p.Timestamp, p.Severity, p.Message); err != nil {
		return nil, err
	}
	if conn := t.currentUpConn(); conn != nil {
		_ = sendRequest(ctx, t.cfg.Ident, conn, "log", true, p, nil)
	}
	return map[string]interface{}{}, nil
}

// handleStop implements §4.2's downward stop propagation: mark local
// state as stopping, abort every still-PENDING child, forward stop to
// every LAUNCHED or STARTED child, and return once each of those is
// COMPLETE or, after stopGrace, has had its handle terminated.
func (t *Tier) handleStop(ctx context.Context, req protocol.Request) (interface{}, error) {
	t.mu.Lock()
	t.stopping = true
	var started []string
	for ident, rec := range t.children {
		if rec.State == depgraph.StatePending {
			rec.State = depgraph.StateComplete
			rec.Result = depgraph.ResultAborted
			rec.CompletedTS = nowUnix()
		} else if rec.State == depgraph.StateLaunched || rec.State == depgraph.StateStarted {
			started = append(started, ident)
		}
	}
	t.mu.Unlock()

	var wg sync.WaitGroup
	for _, ident := range started {
		ident := ident
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.forwardStop(ctx, ident)
		}()
	}
	wg.Wait()
	t.checkDone()
	return map[string]interface{}{}, nil
}

func (t *Tier) forwardStop(ctx context.Context, ident string) {
	t.mu.RLock()
	rec := t.children[ident]
	server := rec.ServerURL
	handle := t.handles[ident]
	t.mu.RUnlock()

	if server != "" {
		dialCtx, cancel := context.WithTimeout(ctx, downwardTimeout)
		conn, err := wsconn.Dial(dialCtx, server, wsconn.DialConfig{MaxAttempts: 1})
		cancel()
		if err == nil {
			_ = sendRequest(ctx, ident, conn, "stop", true, map[string]interface{}{}, nil)
			conn.Close()
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		t.mu.RLock()
		rec, ok := t.children[ident]
		done := ok && rec.State == depgraph.StateComplete
		t.mu.RUnlock()
		if done {
			return
		}
		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if handle != nil {
				_ = handle.Terminate()
			}
			return
		}
	}
}
