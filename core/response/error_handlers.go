package response

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/docrelay/core/handler"
)

type statusCode interface {
	StatusCode() int
}

// alreadyWritten is implemented by the router's response writer.
type alreadyWritten interface {
	Written() bool
}

// convertToHTTPError returns err as an HTTPError. Errors carrying a status code
// map to the predefined error for that status; anything else becomes 500.
func convertToHTTPError(err error) HTTPError {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	status := http.StatusInternalServerError
	var sc statusCode
	if errors.As(err, &sc) {
		status = sc.StatusCode()
	}

	base, ok := httpErrorsByStatus[status]
	if !ok {
		base = ErrInternalServerError
	}
	if status >= http.StatusInternalServerError {
		// Internal causes stay in logs, not in responses.
		return base
	}
	return base.WithError(err)
}

// ErrorHandler renders errors as plain text.
func ErrorHandler[C handler.Context](ctx C, err error) {
	if w, ok := ctx.ResponseWriter().(alreadyWritten); ok && w.Written() {
		return
	}
	httpErr := convertToHTTPError(err)
	Render(ctx, StringWithStatus(httpErr.Error(), httpErr.Status))
}

// JSONErrorHandler renders errors as {"error": {...}} JSON bodies.
func JSONErrorHandler[C handler.Context](ctx C, err error) {
	if w, ok := ctx.ResponseWriter().(alreadyWritten); ok && w.Written() {
		return
	}
	httpErr := convertToHTTPError(err)
	Render(ctx, JSONWithStatus(errorBody{Error: httpErr}, httpErr.Status))
}

type errorBody struct {
	Error HTTPError `json:"error"`
}
