package wsconn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// DialConfig controls the CONNECT-phase reconnect ladder from §4.5:
// bounded exponential backoff, initial 0.5s, cap 5s, up to 12 attempts.
type DialConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint64
}

// DefaultDialConfig returns the §4.5 defaults.
func DefaultDialConfig() DialConfig {
	return DialConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxAttempts:     12,
	}
}

// Dial connects to url, retrying per cfg. url is either a ws:// URL or a
// bare host:port (as a Server's Addr reports it), which is dialed as
// ws://host:port/. Returns the last error if all attempts are
// exhausted, which the caller maps to exit code 2 per §6.
func Dial(ctx context.Context, url string, cfg DialConfig) (*Conn, error) {
	if !strings.Contains(url, "://") {
		url = "ws://" + url + "/"
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	var limited backoff.BackOff = backoff.WithMaxRetries(bo, cfg.MaxAttempts-1)
	limited = backoff.WithContext(limited, ctx)

	var conn *Conn
	op := func() error {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", url, err)
		}
		conn = newConn(ws)
		return nil
	}

	if err := backoff.Retry(op, limited); err != nil {
		return nil, err
	}
	return conn, nil
}
