package response

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/docrelay/core/handler"
)

type wsConfig struct {
	upgrader      *websocket.Upgrader
	beforeUpgrade func(*http.Request) error
	onDisconnect  func(context.Context, *websocket.Conn)
	onError       func(context.Context, error)
}

// WebSocketOption configures WebSocket.
type WebSocketOption func(*wsConfig)

// WithWSReadBuffer sets the upgrader read buffer size.
func WithWSReadBuffer(size int) WebSocketOption {
	return func(c *wsConfig) { c.upgrader.ReadBufferSize = size }
}

// WithWSWriteBuffer sets the upgrader write buffer size.
func WithWSWriteBuffer(size int) WebSocketOption {
	return func(c *wsConfig) { c.upgrader.WriteBufferSize = size }
}

// WithWSHandshakeTimeout bounds the upgrade handshake.
func WithWSHandshakeTimeout(timeout time.Duration) WebSocketOption {
	return func(c *wsConfig) { c.upgrader.HandshakeTimeout = timeout }
}

// WithWSOriginCheck sets the origin policy. The gorilla default rejects cross-origin requests.
func WithWSOriginCheck(fn func(r *http.Request) bool) WebSocketOption {
	return func(c *wsConfig) { c.upgrader.CheckOrigin = fn }
}

// WithWSAllowAnyOrigin accepts every origin.
func WithWSAllowAnyOrigin() WebSocketOption {
	return WithWSOriginCheck(func(*http.Request) bool { return true })
}

// WithWSBeforeUpgrade runs fn before the handshake. A returned error is sent
// to the router's error handler as a normal HTTP response and no upgrade happens.
func WithWSBeforeUpgrade(fn func(*http.Request) error) WebSocketOption {
	return func(c *wsConfig) { c.beforeUpgrade = fn }
}

// WithWSOnDisconnect runs after the connection is closed.
func WithWSOnDisconnect(fn func(context.Context, *websocket.Conn)) WebSocketOption {
	return func(c *wsConfig) { c.onDisconnect = fn }
}

// WithWSErrorHandler receives upgrade and session errors.
func WithWSErrorHandler(fn func(context.Context, error)) WebSocketOption {
	return func(c *wsConfig) { c.onError = fn }
}

// WebSocket upgrades the connection and runs session until it returns.
// Errors after the upgrade cannot become HTTP responses, so they go to the
// WithWSErrorHandler callback instead.
func WebSocket(session func(context.Context, *websocket.Conn) error, opts ...WebSocketOption) handler.Response {
	cfg := &wsConfig{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(w http.ResponseWriter, r *http.Request) error {
		if cfg.beforeUpgrade != nil {
			if err := cfg.beforeUpgrade(r); err != nil {
				return err
			}
		}

		conn, err := cfg.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already written the HTTP error.
			cfg.reportError(r.Context(), err)
			return nil
		}
		defer func() {
			_ = conn.Close()
			if cfg.onDisconnect != nil {
				cfg.onDisconnect(r.Context(), conn)
			}
		}()

		if err := session(r.Context(), conn); err != nil {
			cfg.reportError(r.Context(), err)
		}
		return nil
	}
}

func (c *wsConfig) reportError(ctx context.Context, err error) {
	if c.onError != nil {
		c.onError(ctx, err)
	}
}
