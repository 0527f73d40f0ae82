package router_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/docrelay/core/handler"
	"github.com/dmitrymomot/docrelay/core/router"
)

func text(body string) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(body))
		return err
	}
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestMux_Routing(t *testing.T) {
	t.Parallel()

	r := router.New[*router.Context]()
	r.Route("/api", func(api router.Router[*router.Context]) {
		api.Get("/", func(ctx *router.Context) handler.Response { return text("root") })
		api.Get("/data", func(ctx *router.Context) handler.Response { return text("list") })
		api.Delete("/data", func(ctx *router.Context) handler.Response { return text("clear") })
		api.Delete("/data/{id}", func(ctx *router.Context) handler.Response {
			return text("delete " + ctx.Param("id"))
		})
	})

	t.Run("exact_root", func(t *testing.T) {
		t.Parallel()
		w := serve(r, http.MethodGet, "/api/")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "root", w.Body.String())
	})

	t.Run("method_dispatch", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "list", serve(r, http.MethodGet, "/api/data").Body.String())
		assert.Equal(t, "clear", serve(r, http.MethodDelete, "/api/data").Body.String())
	})

	t.Run("path_param", func(t *testing.T) {
		t.Parallel()
		w := serve(r, http.MethodDelete, "/api/data/665f1c")
		assert.Equal(t, "delete 665f1c", w.Body.String())
	})

	t.Run("head_falls_back_to_get", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, http.StatusOK, serve(r, http.MethodHead, "/api/data").Code)
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/missing").Code)
		assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/data/1/extra").Code)
	})

	t.Run("method_not_allowed", func(t *testing.T) {
		t.Parallel()
		w := serve(r, http.MethodPut, "/api/data")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		assert.Equal(t, "GET, DELETE", w.Header().Get("Allow"))
	})

	t.Run("routes_listed", func(t *testing.T) {
		t.Parallel()
		routes := r.Routes()
		require.Len(t, routes, 4)
		assert.Equal(t, router.Route{Method: http.MethodDelete, Pattern: "/api/data/{id}"}, routes[3])
	})
}

func TestMux_Middleware(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) handler.Middleware[*router.Context] {
		return func(next handler.HandlerFunc[*router.Context]) handler.HandlerFunc[*router.Context] {
			return func(ctx *router.Context) handler.Response {
				order = append(order, name)
				return next(ctx)
			}
		}
	}

	type key struct{}

	r := router.New[*router.Context](router.WithMiddleware(mw("global")))
	r.Use(mw("use"))
	r.With(mw("inline")).Get("/a", func(ctx *router.Context) handler.Response { return text("a") })
	r.Group(func(g router.Router[*router.Context]) {
		g.Use(func(next handler.HandlerFunc[*router.Context]) handler.HandlerFunc[*router.Context] {
			return func(ctx *router.Context) handler.Response {
				ctx.SetValue(key{}, "from-middleware")
				return next(ctx)
			}
		})
		g.Get("/b", func(ctx *router.Context) handler.Response {
			return text(ctx.Value(key{}).(string))
		})
	})

	w := serve(r, http.MethodGet, "/a")
	assert.Equal(t, "a", w.Body.String())
	assert.Equal(t, []string{"global", "use", "inline"}, order)

	w = serve(r, http.MethodGet, "/b")
	assert.Equal(t, "from-middleware", w.Body.String())
}

type teapotError struct{}

func (teapotError) Error() string   { return "short and stout" }
func (teapotError) StatusCode() int { return http.StatusTeapot }

func TestMux_Errors(t *testing.T) {
	t.Parallel()

	t.Run("returned_error_uses_status_code", func(t *testing.T) {
		t.Parallel()

		r := router.New[*router.Context]()
		r.Get("/", func(ctx *router.Context) handler.Response {
			return func(w http.ResponseWriter, r *http.Request) error { return teapotError{} }
		})

		w := serve(r, http.MethodGet, "/")
		assert.Equal(t, http.StatusTeapot, w.Code)
		assert.Contains(t, w.Body.String(), "short and stout")
	})

	t.Run("panic_recovered", func(t *testing.T) {
		t.Parallel()

		var got error
		r := router.New[*router.Context](router.WithErrorHandler(func(ctx *router.Context, err error) {
			got = err
			ctx.ResponseWriter().WriteHeader(http.StatusInternalServerError)
		}))
		r.Get("/boom", func(ctx *router.Context) handler.Response { panic(errors.New("kaboom")) })

		w := serve(r, http.MethodGet, "/boom")
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var pe router.PanicError
		require.ErrorAs(t, got, &pe)
		assert.Contains(t, pe.Error(), "kaboom")
		assert.NotEmpty(t, pe.Stack())
	})

	t.Run("nil_response", func(t *testing.T) {
		t.Parallel()

		r := router.New[*router.Context]()
		r.Get("/nil", func(ctx *router.Context) handler.Response { return nil })

		w := serve(r, http.MethodGet, "/nil")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.True(t, strings.Contains(w.Body.String(), router.ErrNilResponse.Error()))
	})

	t.Run("invalid_pattern_panics", func(t *testing.T) {
		t.Parallel()

		r := router.New[*router.Context]()
		assert.Panics(t, func() { r.Get("no-slash", func(ctx *router.Context) handler.Response { return nil }) })
		assert.Panics(t, func() { r.Method("/x", nil) })
		assert.Panics(t, func() {
			r.Method("/x", func(ctx *router.Context) handler.Response { return nil }, "BREW")
		})
	})
}

func TestMux_Hijack(t *testing.T) {
	t.Parallel()

	r := router.New[*router.Context]()
	r.Get("/raw", func(ctx *router.Context) handler.Response {
		return func(w http.ResponseWriter, req *http.Request) error {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, buf, err := hj.Hijack()
			if err != nil {
				return err
			}
			defer conn.Close()
			_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 6\r\nConnection: close\r\n\r\nraw ok")
			return buf.Flush()
		}
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/raw")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
