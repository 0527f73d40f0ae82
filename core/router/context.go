package router

import (
	"context"
	"net/http"
	"time"
)

// Context is the default handler.Context implementation backed by the request context.
type Context struct {
	w http.ResponseWriter
	r *http.Request
}

func newContext(w http.ResponseWriter, r *http.Request) *Context {
	return &Context{w: w, r: r}
}

func (c *Context) Deadline() (deadline time.Time, ok bool) { return c.r.Context().Deadline() }
func (c *Context) Done() <-chan struct{}                   { return c.r.Context().Done() }
func (c *Context) Err() error                              { return c.r.Context().Err() }
func (c *Context) Value(key any) any                       { return c.r.Context().Value(key) }

// SetValue stores a request-scoped value readable through Value.
func (c *Context) SetValue(key, val any) {
	c.r = c.r.WithContext(context.WithValue(c.r.Context(), key, val))
}

// Request returns the current request, including values added by SetValue.
func (c *Context) Request() *http.Request { return c.r }

// ResponseWriter returns the wrapped response writer.
func (c *Context) ResponseWriter() http.ResponseWriter { return c.w }

// Param returns a path parameter matched by the route pattern.
func (c *Context) Param(key string) string { return c.r.PathValue(key) }
