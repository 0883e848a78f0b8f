// Package wsconn provides the websocket transport shared by every
// tier/wrapper server and upward client, per §2 item 2 and §6 ("JSON
// objects, one per websocket message frame... single endpoint per
// server"). Grounded on ternarybob-quaero's internal/handlers/websocket.go
// (gorilla/websocket upgrader, per-connection write mutex, broadcast to
// a registry of connections).
package wsconn

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Conn wraps a *websocket.Conn with the single write-mutex gorilla's
// docs require for concurrent writers (the server's reply path and any
// background ticker both write to the same connection).
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WriteJSON serializes v as a single text frame.
func (c *Conn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// ReadMessage blocks for the next frame, returning its raw bytes.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// RemoteAddr returns the peer's network address string.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
