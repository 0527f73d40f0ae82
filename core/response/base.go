package response

import (
	"net/http"

	"github.com/dmitrymomot/docrelay/core/handler"
)

// Render executes resp against the context's writer. Used by error handlers,
// which cannot return a Response themselves.
func Render(ctx handler.Context, resp handler.Response) {
	if err := resp(ctx.ResponseWriter(), ctx.Request()); err != nil {
		http.Error(ctx.ResponseWriter(), err.Error(), http.StatusInternalServerError)
	}
}

// String writes plain text with status 200.
func String(content string) handler.Response {
	return StringWithStatus(content, http.StatusOK)
}

// StringWithStatus writes plain text with the given status (200 when zero).
func StringWithStatus(content string, status int) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		code := status
		if code == 0 {
			code = http.StatusOK
		}
		w.WriteHeader(code)
		if content != "" {
			_, err := w.Write([]byte(content))
			return err
		}
		return nil
	}
}

// NoContent responds with 204.
func NoContent() handler.Response {
	return Status(http.StatusNoContent)
}

// Status writes only a status code.
func Status(code int) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		if code == 0 {
			code = http.StatusOK
		}
		w.WriteHeader(code)
		return nil
	}
}

// Handler adapts a plain http.Handler, e.g. promhttp, into a Response.
func Handler(h http.Handler) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		h.ServeHTTP(w, r)
		return nil
	}
}
