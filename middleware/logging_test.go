package middleware_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/docrelay/core/handler"
	"github.com/dmitrymomot/docrelay/core/response"
	"github.com/dmitrymomot/docrelay/core/router"
	"github.com/dmitrymomot/docrelay/middleware"
)

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, gojson.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestLogging(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		r := router.New[*router.Context]()
		r.Use(
			middleware.RequestIDWithConfig[*router.Context](middleware.RequestIDConfig{
				Generator: func() string { return "req-7" },
			}),
			middleware.LoggingWithLogger[*router.Context](newJSONLogger(&buf)),
		)
		r.Get("/api/data", func(ctx *router.Context) handler.Response {
			return response.JSON(map[string]string{"status": "ok"})
		})

		req := httptest.NewRequest(http.MethodGet, "/api/data?title=flat", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		entry := lastEntry(t, &buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "http request", entry["msg"])
		assert.Equal(t, "GET", entry["method"])
		assert.Equal(t, "/api/data", entry["path"])
		assert.Equal(t, float64(200), entry["status_code"])
		assert.Equal(t, "req-7", entry["request_id"])
		assert.Equal(t, "title=flat", entry["query"])
		assert.Equal(t, "203.0.113.9", entry["client_ip"])
		assert.Greater(t, entry["bytes_out"], float64(0))
	})

	t.Run("error_status_from_http_error", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		r := router.New[*router.Context](router.WithErrorHandler(response.JSONErrorHandler[*router.Context]))
		r.Use(middleware.LoggingWithLogger[*router.Context](newJSONLogger(&buf)))
		r.Get("/missing", func(ctx *router.Context) handler.Response {
			return response.Error(response.ErrNotFound)
		})
		r.Get("/boom", func(ctx *router.Context) handler.Response {
			return response.Error(response.ErrInternalServerError)
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		entry := lastEntry(t, &buf)
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, float64(404), entry["status_code"])

		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
		entry = lastEntry(t, &buf)
		assert.Equal(t, "ERROR", entry["level"])
		assert.Equal(t, float64(500), entry["status_code"])
	})

	t.Run("redacts_sensitive_headers", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		r := router.New[*router.Context]()
		r.Use(middleware.LoggingWithConfig[*router.Context](middleware.LoggingConfig{
			Logger:     newJSONLogger(&buf),
			LogHeaders: true,
		}))
		r.Get("/test", func(ctx *router.Context) handler.Response {
			return response.NoContent()
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer secret")
		req.Header.Set("Accept", "application/json")
		r.ServeHTTP(httptest.NewRecorder(), req)

		assert.NotContains(t, buf.String(), "secret")
		assert.Contains(t, buf.String(), "[REDACTED]")
		assert.Contains(t, buf.String(), "application/json")
	})

	t.Run("skip", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		r := router.New[*router.Context]()
		r.Use(middleware.LoggingWithConfig[*router.Context](middleware.LoggingConfig{
			Logger: newJSONLogger(&buf),
			Skip: func(ctx handler.Context) bool {
				return ctx.Request().URL.Path == "/health/live"
			},
		}))
		r.Get("/health/live", func(ctx *router.Context) handler.Response {
			return response.NoContent()
		})

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Empty(t, buf.String())
	})

	t.Run("websocket_upgrade_passes_through", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		r := router.New[*router.Context]()
		r.Use(middleware.LoggingWithLogger[*router.Context](newJSONLogger(&buf)))
		r.Get("/ws", func(ctx *router.Context) handler.Response {
			return response.WebSocket(func(_ context.Context, conn *websocket.Conn) error {
				return conn.WriteMessage(websocket.TextMessage, []byte("hello"))
			})
		})

		srv := httptest.NewServer(r)
		defer srv.Close()

		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
		require.NoError(t, err)
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "hello", string(msg))
	})
}
