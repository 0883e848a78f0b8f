package wsconn

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Every peer in the overlay tree is a process we spawned and
		// handed a loopback/ephemeral address; there is no browser
		// origin to police here.
		return true
	},
}

// ConnHandler is invoked once per accepted connection; it owns the
// connection until it returns, at which point the server closes it.
type ConnHandler func(ctx context.Context, conn *Conn)

// Server binds an HTTP server exposing a single websocket endpoint at
// "/", per §6 ("Single endpoint per server; all actions share it").
type Server struct {
	logger   *slog.Logger
	handler  ConnHandler
	listener net.Listener
	http     *http.Server
}

// NewServer binds addr (":0" for an ephemeral port) and returns a Server
// not yet accepting connections; call Serve to start it.
func NewServer(addr string, logger *slog.Logger, handler ConnHandler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{logger: logger, handler: handler, listener: ln}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.http = &http.Server{Handler: mux}
	return s, nil
}

// Addr returns the bound local address, e.g. "127.0.0.1:54321".
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is canceled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.http.Close()
	}()
	err := s.http.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := newConn(ws)
	defer conn.Close()
	s.handler(r.Context(), conn)
}
