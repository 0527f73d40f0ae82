package handler

import "net/http"

// Response renders the result of a handler. A returned error goes to the
// router's ErrorHandler; nothing should be written before returning one.
type Response func(w http.ResponseWriter, r *http.Request) error

// HandlerFunc handles a request with a typed context.
type HandlerFunc[C Context] func(ctx C) Response

// ErrorHandler renders errors returned by handlers or responses.
type ErrorHandler[C Context] func(ctx C, err error)

// Middleware wraps a HandlerFunc.
type Middleware[C Context] func(next HandlerFunc[C]) HandlerFunc[C]

// Chain wraps h so the first middleware runs outermost.
func Chain[C Context](middlewares []Middleware[C], h HandlerFunc[C]) HandlerFunc[C] {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
