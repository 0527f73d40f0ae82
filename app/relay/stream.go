package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/docrelay/core/handler"
	"github.com/dmitrymomot/docrelay/core/logger"
	"github.com/dmitrymomot/docrelay/core/response"
	"github.com/dmitrymomot/docrelay/core/router"
	"github.com/dmitrymomot/docrelay/pkg/broadcast"
)

var errClientClosed = errors.New("relay: client closed the stream")

// subscribe upgrades to a WebSocket and streams broadcast frames until the
// client goes away, the request context ends or the broadcaster closes.
// A full registry or a closed broadcaster rejects the upgrade with 503.
func (a *API) subscribe(ctx *router.Context) handler.Response {
	var sub *broadcast.Subscriber

	opts := []response.WebSocketOption{
		response.WithWSBeforeUpgrade(func(*http.Request) error {
			s, err := a.broadcaster.Subscribe()
			if errors.Is(err, broadcast.ErrRegistryFull) {
				return response.ErrServiceUnavailable.
					WithMessage("subscriber limit reached").
					WithError(err)
			}
			if err != nil {
				return response.ErrServiceUnavailable.
					WithMessage("stream unavailable").
					WithError(err)
			}
			sub = s
			return nil
		}),
		response.WithWSErrorHandler(func(ctx context.Context, err error) {
			a.logger.WarnContext(ctx, "stream closed with error", logger.Error(err))
		}),
	}
	if a.stream.ReadBufferSize > 0 {
		opts = append(opts, response.WithWSReadBuffer(a.stream.ReadBufferSize))
	}
	if a.stream.WriteBufferSize > 0 {
		opts = append(opts, response.WithWSWriteBuffer(a.stream.WriteBufferSize))
	}
	if a.stream.HandshakeTimeout > 0 {
		opts = append(opts, response.WithWSHandshakeTimeout(a.stream.HandshakeTimeout))
	}
	if check := originCheck(a.stream.AllowedOrigins); check != nil {
		opts = append(opts, response.WithWSOriginCheck(check))
	}

	ws := response.WebSocket(func(ctx context.Context, conn *websocket.Conn) error {
		return a.serveStream(ctx, conn, sub)
	}, opts...)

	return func(w http.ResponseWriter, r *http.Request) error {
		defer func() {
			if sub != nil {
				a.broadcaster.Unsubscribe(sub.ID())
			}
		}()
		return ws(w, r)
	}
}

// originCheck builds the upgrader origin policy. A nil result keeps the
// gorilla same-origin check. Requests without an Origin header always pass.
func originCheck(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(strings.TrimSpace(o), origin) {
				return true
			}
		}
		return false
	}
}

// serveStream drives one connection: the drain loop writes frames, a reader
// consumes client messages and pongs, and a pinger keeps the link alive.
// gorilla allows one concurrent reader and one writer; pings go through
// WriteControl, which may run alongside both.
func (a *API) serveStream(ctx context.Context, conn *websocket.Conn, sub *broadcast.Subscriber) error {
	c := a.stream
	log := a.logger.With(logger.SubscriberID(sub.ID().String()))
	log.InfoContext(ctx, "subscriber connected")
	defer log.InfoContext(ctx, "subscriber disconnected")

	if c.ReadLimit > 0 {
		conn.SetReadLimit(c.ReadLimit)
	}
	_ = conn.SetReadDeadline(a.clock.Now().Add(c.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(a.clock.Now().Add(c.PongTimeout))
	})

	// stop ends the reader and pinger once the drain loop has returned.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		err := a.broadcaster.Drain(gctx, sub, func(_ context.Context, msg broadcast.Message) error {
			frame, err := EncodeFrame(msg)
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(a.clock.Now().Add(c.WriteTimeout))
			return conn.WriteMessage(websocket.TextMessage, frame)
		})
		stop()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			a.clock.Now().Add(c.WriteTimeout))
		_ = conn.Close()
		return err
	})

	g.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					return errClientClosed
				}
				a.broadcaster.Fail(sub, err)
				return err
			}
			log.DebugContext(ctx, "client message", slog.Int("bytes", len(data)))
		}
	})

	g.Go(func() error {
		ticker := a.clock.NewTicker(c.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.Chan():
				if err := conn.WriteControl(websocket.PingMessage, nil, a.clock.Now().Add(c.WriteTimeout)); err != nil {
					a.broadcaster.Fail(sub, err)
					return err
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, errClientClosed) {
		return nil
	}
	return err
}
