package response_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/docrelay/core/handler"
	"github.com/dmitrymomot/docrelay/core/response"
	"github.com/dmitrymomot/docrelay/core/router"
)

type customStatusError struct {
	message string
	status  int
}

func (e customStatusError) Error() string   { return e.message }
func (e customStatusError) StatusCode() int { return e.status }

func newJSONRouter() router.Router[*router.Context] {
	return router.New[*router.Context](
		router.WithErrorHandler(response.JSONErrorHandler[*router.Context]),
	)
}

func TestJSONWithStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		value      any
		status     int
		wantStatus int
		wantBody   string
	}{
		{"created", map[string]string{"message": "Document saved"}, http.StatusCreated, http.StatusCreated, `{"message":"Document saved"}`},
		{"zero_status_with_value", []int{1, 2}, 0, http.StatusOK, `[1,2]`},
		{"zero_status_nil_value", nil, 0, http.StatusNoContent, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			err := response.JSONWithStatus(tt.value, tt.status)(w, httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody == "" {
				assert.Empty(t, w.Body.String())
				return
			}
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
		})
	}

	t.Run("marshal_failure_writes_nothing", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		err := response.JSON(map[string]any{"fn": func() {}})(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Error(t, err)
		assert.Empty(t, w.Body.String())
	})
}

func TestJSONErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantCause  bool
	}{
		{"http_error_passthrough", response.ErrBadRequest.WithMessage("document must be a JSON object"), http.StatusBadRequest, "bad_request", false},
		{"wrapped_http_error", errors.Join(errors.New("ctx"), response.ErrConflict), http.StatusConflict, "conflict", false},
		{"status_code_error", customStatusError{"slow down", http.StatusTooManyRequests}, http.StatusTooManyRequests, "too_many_requests", true},
		{"plain_error_is_internal", errors.New("mongo: connection reset"), http.StatusInternalServerError, "internal_server_error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newJSONRouter()
			r.Get("/", func(ctx *router.Context) handler.Response { return response.Error(tt.err) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"`+tt.wantCode+`"`)
			assert.Equal(t, tt.wantCause, strings.Contains(w.Body.String(), `"cause"`))
			assert.NotContains(t, w.Body.String(), "connection reset")
		})
	}

	t.Run("router_not_found", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		newJSONRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), `"code":"not_found"`)
	})
}

func TestHTTPError(t *testing.T) {
	t.Parallel()

	base := response.ErrBadRequest.WithDetails(map[string]any{"field": "body"})
	withCause := base.WithError(errors.New("unexpected EOF"))

	assert.Equal(t, "body", withCause.Details["field"])
	assert.Equal(t, "unexpected EOF", withCause.Details["cause"])
	assert.NotContains(t, base.Details, "cause", "WithError must not mutate the receiver")
	assert.Equal(t, http.StatusBadRequest, withCause.StatusCode())
	assert.Equal(t, base, base.WithError(nil))
}

func TestStringAndStatus(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	require.NoError(t, response.String("ok")(w, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	require.NoError(t, response.NoContent()(w, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })
	require.NoError(t, response.Handler(h)(w, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestWebSocket(t *testing.T) {
	t.Parallel()

	t.Run("echo_through_router", func(t *testing.T) {
		t.Parallel()

		disconnected := make(chan struct{})
		r := newJSONRouter()
		r.Get("/ws", func(ctx *router.Context) handler.Response {
			return response.WebSocket(func(ctx context.Context, conn *websocket.Conn) error {
				mt, data, err := conn.ReadMessage()
				if err != nil {
					return err
				}
				return conn.WriteMessage(mt, data)
			},
				response.WithWSAllowAnyOrigin(),
				response.WithWSOnDisconnect(func(context.Context, *websocket.Conn) { close(disconnected) }),
			)
		})

		srv := httptest.NewServer(r)
		defer srv.Close()

		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "ping", string(data))

		select {
		case <-disconnected:
		case <-time.After(time.Second):
			t.Fatal("disconnect callback not called")
		}
	})

	t.Run("before_upgrade_rejects", func(t *testing.T) {
		t.Parallel()

		r := newJSONRouter()
		r.Get("/ws", func(ctx *router.Context) handler.Response {
			return response.WebSocket(func(context.Context, *websocket.Conn) error {
				t.Error("session must not start")
				return nil
			}, response.WithWSBeforeUpgrade(func(*http.Request) error {
				return response.ErrServiceUnavailable
			}))
		})

		srv := httptest.NewServer(r)
		defer srv.Close()

		_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("origin_check_rejects", func(t *testing.T) {
		t.Parallel()

		r := newJSONRouter()
		r.Get("/ws", func(ctx *router.Context) handler.Response {
			return response.WebSocket(func(context.Context, *websocket.Conn) error {
				t.Error("session must not start")
				return nil
			},
				response.WithWSOriginCheck(func(r *http.Request) bool {
					return r.Header.Get("Origin") == "http://allowed.example.com"
				}),
				response.WithWSReadBuffer(512),
				response.WithWSWriteBuffer(512),
				response.WithWSHandshakeTimeout(time.Second),
			)
		})

		srv := httptest.NewServer(r)
		defer srv.Close()

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example.com"}})
		require.Error(t, err)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("plain_request_reports_upgrade_error", func(t *testing.T) {
		t.Parallel()

		errCh := make(chan error, 1)
		r := newJSONRouter()
		r.Get("/ws", func(ctx *router.Context) handler.Response {
			return response.WebSocket(func(context.Context, *websocket.Conn) error { return nil },
				response.WithWSErrorHandler(func(_ context.Context, err error) { errCh <- err }))
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Error(t, <-errCh)
	})
}
