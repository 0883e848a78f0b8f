package protocol

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Handler processes one decoded request and returns the payload for a
// success response, or an error to produce a failure response. Posted
// requests still invoke Handler so side effects happen, but any
// returned error still yields a failure response per §4.1 ("the peer
// MUST still emit a failure response when the envelope cannot be
// decoded" — handlers extend that guarantee to decodable-but-invalid
// payloads as a protocol error, §7).
type Handler func(ctx context.Context, req Request) (interface{}, error)

// Dispatcher routes decoded requests to registered action handlers. One
// Dispatcher serves all actions for either role (tier or wrapper) since
// the wire format is symmetric, per §4.1 ("all actions share" the single
// endpoint).
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Handle registers the handler for action, overwriting any prior
// registration.
func (d *Dispatcher) Handle(action string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = h
}

// Dispatch resolves req's handler, invokes it, and returns the Response
// to send — nil if req was posted and succeeded (no response expected).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Response {
	d.mu.RLock()
	h, ok := d.handlers[req.Action]
	d.mu.RUnlock()

	if !ok {
		resp := ErrorResponse(req.ReqID, fmt.Sprintf("unknown action %q", req.Action))
		return &resp
	}

	payload, err := h(ctx, req)
	if err != nil {
		resp := ErrorResponse(req.ReqID, err.Error())
		return &resp
	}
	if req.Posted {
		return nil
	}
	resp, err := SuccessResponse(req.Action, req.ReqID, payload)
	if err != nil {
		errResp := ErrorResponse(req.ReqID, err.Error())
		return &errResp
	}
	return &resp
}

// Correlator tracks outstanding non-posted requests sent upward, so
// out-of-order responses can be matched back to the caller awaiting
// them, per §5's ordering guarantee ("out-of-order responses are
// permitted and correlated by req_id").
type Correlator struct {
	counter atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan Response
}

// NewCorrelator returns an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[int64]chan Response)}
}

// NextReqID returns a fresh, monotonically increasing request id.
func (c *Correlator) NextReqID() int64 {
	return c.counter.Add(1)
}

// Await registers reqID as outstanding and returns a channel that
// receives the matching Response exactly once.
func (c *Correlator) Await(reqID int64) <-chan Response {
	ch := make(chan Response, 1)
	c.mu.Lock()
	c.pending[reqID] = ch
	c.mu.Unlock()
	return ch
}

// Cancel removes reqID from the pending set without delivering a
// response, used when a caller gives up waiting (e.g. on timeout).
func (c *Correlator) Cancel(reqID int64) {
	c.mu.Lock()
	delete(c.pending, reqID)
	c.mu.Unlock()
}

// Resolve delivers resp to whichever Await call is waiting on its
// RspID, if any. Returns false if no such pending request exists (e.g.
// a duplicate or unsolicited response).
func (c *Correlator) Resolve(resp Response) bool {
	c.mu.Lock()
	ch, ok := c.pending[resp.RspID]
	if ok {
		delete(c.pending, resp.RspID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}
