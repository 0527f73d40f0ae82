package health_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/docrelay/core/health"
	"github.com/dmitrymomot/docrelay/core/response"
	"github.com/dmitrymomot/docrelay/core/router"
)

func serve(t *testing.T, r router.Router[*router.Context], path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	t.Parallel()

	r := router.New[*router.Context]()
	r.Get("/live", health.Liveness[*router.Context])
	r.Get("/ping", health.NoContent[*router.Context])

	rec := serve(t, r, "/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALIVE", rec.Body.String())

	assert.Equal(t, http.StatusNoContent, serve(t, r, "/ping").Code)
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := func(context.Context) error { return nil }

	t.Run("all_checks_pass", func(t *testing.T) {
		t.Parallel()

		r := router.New[*router.Context](router.WithErrorHandler(response.JSONErrorHandler[*router.Context]))
		r.Get("/ready", health.Readiness[*router.Context](log,
			health.Check{Name: "mongo", Fn: ok},
			health.Check{Name: "redis", Fn: ok},
		))

		rec := serve(t, r, "/ready")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ready","checks":{"mongo":"ok","redis":"ok"}}`, rec.Body.String())
	})

	t.Run("failing_check", func(t *testing.T) {
		t.Parallel()

		r := router.New[*router.Context](router.WithErrorHandler(response.JSONErrorHandler[*router.Context]))
		r.Get("/ready", health.Readiness[*router.Context](log,
			health.Check{Name: "mongo", Fn: ok},
			health.Check{Name: "redis", Fn: func(context.Context) error { return errors.New("connection refused") }},
		))

		rec := serve(t, r, "/ready")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"redis":"connection refused"`)
		assert.Contains(t, rec.Body.String(), `"mongo":"ok"`)
	})

	t.Run("no_checks", func(t *testing.T) {
		t.Parallel()

		r := router.New[*router.Context]()
		r.Get("/ready", health.Readiness[*router.Context](log))

		rec := serve(t, r, "/ready")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
	})
}
