package router

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/dmitrymomot/docrelay/core/handler"
)

// root holds state shared by a router and all of its groups.
type root[C handler.Context] struct {
	serve        *http.ServeMux
	endpoints    map[string]*endpoint[C]
	routes       []Route
	errorHandler handler.ErrorHandler[C]
	newContext   func(http.ResponseWriter, *http.Request) C
	logger       *slog.Logger
}

// endpoint collects the per-method handlers of one path pattern.
type endpoint[C handler.Context] struct {
	pattern  string
	handlers map[string]routeHandler[C]
}

type routeHandler[C handler.Context] struct {
	owner *mux[C]
	fn    handler.HandlerFunc[C]
}

// mux is the private implementation of Router.
type mux[C handler.Context] struct {
	root        *root[C]
	parent      *mux[C]
	prefix      string
	middlewares []handler.Middleware[C]
}

const anyMethod = "*"

var knownMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
	http.MethodConnect, http.MethodTrace,
}

func newMux[C handler.Context](opts ...Option[C]) *mux[C] {
	m := &mux[C]{
		root: &root[C]{
			serve:        http.NewServeMux(),
			endpoints:    make(map[string]*endpoint[C]),
			errorHandler: defaultErrorHandler[C],
			logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.root.newContext == nil {
		m.root.newContext = func(w http.ResponseWriter, r *http.Request) C {
			var zero C
			if _, ok := any(zero).(*Context); ok {
				return any(newContext(w, r)).(C)
			}
			panic(ErrNoContextFactory)
		}
	}

	// Everything ServeMux cannot match lands here.
	m.root.serve.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		m.fail(w, r, ErrNotFound)
	})

	return m
}

// ServeHTTP implements http.Handler.
func (m *mux[C]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ww, ok := w.(*responseWriter)
	if !ok {
		ww = newResponseWriter(w)
	}
	m.root.serve.ServeHTTP(ww, r)
}

func (m *mux[C]) fail(w http.ResponseWriter, r *http.Request, err error) {
	m.root.errorHandler(m.root.newContext(w, r), err)
}

func (ep *endpoint[C]) serveHTTP(w http.ResponseWriter, r *http.Request) {
	rt := ep.lookup(r.Method)
	ww := w.(*responseWriter)
	if rt.fn == nil {
		owner := ep.anyOwner()
		if allowed := ep.allowed(); len(allowed) > 0 {
			ww.Header().Set("Allow", strings.Join(allowed, ", "))
		}
		owner.fail(ww, r, ErrMethodNotAllowed)
		return
	}
	rt.owner.dispatch(ww, r, rt.fn)
}

func (ep *endpoint[C]) lookup(method string) routeHandler[C] {
	if rt, ok := ep.handlers[method]; ok {
		return rt
	}
	if method == http.MethodHead {
		if rt, ok := ep.handlers[http.MethodGet]; ok {
			return rt
		}
	}
	return ep.handlers[anyMethod]
}

func (ep *endpoint[C]) anyOwner() *mux[C] {
	for _, rt := range ep.handlers {
		return rt.owner
	}
	return nil
}

func (ep *endpoint[C]) allowed() []string {
	out := make([]string, 0, len(ep.handlers))
	for _, method := range knownMethods {
		if _, ok := ep.handlers[method]; ok {
			out = append(out, method)
		}
	}
	return out
}

func (m *mux[C]) dispatch(ww *responseWriter, r *http.Request, fn handler.HandlerFunc[C]) {
	ctx := m.root.newContext(ww, r)

	defer func() {
		if p := recover(); p != nil {
			panicErr := &panicError{value: p, stack: debug.Stack()}
			if ww.Written() {
				m.root.logger.Error("panic after response written",
					"value", panicErr.value,
					"stack", string(panicErr.stack),
					"path", r.URL.Path,
					"method", r.Method,
					"status", ww.Status(),
				)
				return
			}
			m.root.errorHandler(ctx, panicErr)
		}
	}()

	if mws := m.chainMiddlewares(); len(mws) > 0 {
		fn = handler.Chain(mws, fn)
	}

	response := fn(ctx)
	if response == nil {
		m.root.errorHandler(ctx, ErrNilResponse)
		return
	}

	// Middleware may replace the request (e.g. to attach values); use the latest one.
	req := ctx.Request()
	if req == nil {
		req = r
	}
	if err := response(ww, req); err != nil {
		m.root.errorHandler(ctx, err)
	}
}

// chainMiddlewares returns ancestors' middlewares followed by this group's own.
func (m *mux[C]) chainMiddlewares() []handler.Middleware[C] {
	var all []handler.Middleware[C]
	for curr := m; curr != nil; curr = curr.parent {
		all = append(slices.Clone(curr.middlewares), all...)
	}
	return all
}

func (m *mux[C]) Get(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodGet, pattern, h)
}

func (m *mux[C]) Post(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodPost, pattern, h)
}

func (m *mux[C]) Put(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodPut, pattern, h)
}

func (m *mux[C]) Delete(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodDelete, pattern, h)
}

func (m *mux[C]) Patch(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodPatch, pattern, h)
}

func (m *mux[C]) Handle(pattern string, h handler.HandlerFunc[C]) {
	m.handle(anyMethod, pattern, h)
}

// Method registers h for one or more specific HTTP methods.
func (m *mux[C]) Method(pattern string, h handler.HandlerFunc[C], methods ...string) {
	if len(methods) == 0 {
		panic(fmt.Errorf("%w: no methods provided", ErrInvalidMethod))
	}
	for _, method := range methods {
		method = strings.ToUpper(method)
		if !slices.Contains(knownMethods, method) {
			panic(fmt.Errorf("%w: %s", ErrInvalidMethod, method))
		}
		m.handle(method, pattern, h)
	}
}

// Use appends middleware to this router or group.
func (m *mux[C]) Use(middlewares ...handler.Middleware[C]) {
	m.middlewares = append(m.middlewares, middlewares...)
}

// With returns an inline group that adds middlewares to routes registered on it.
func (m *mux[C]) With(middlewares ...handler.Middleware[C]) Router[C] {
	return &mux[C]{
		root:        m.root,
		parent:      m,
		prefix:      m.prefix,
		middlewares: slices.Clone(middlewares),
	}
}

// Group creates an inline group for routes sharing middleware.
func (m *mux[C]) Group(fn func(r Router[C])) Router[C] {
	g := m.With()
	if fn != nil {
		fn(g)
	}
	return g
}

// Route creates a group whose patterns are prefixed with pattern.
func (m *mux[C]) Route(pattern string, fn func(r Router[C])) Router[C] {
	if fn == nil {
		panic(fmt.Errorf("%w on '%s'", ErrNilSubrouter, pattern))
	}
	if pattern == "" || pattern[0] != '/' {
		panic(fmt.Errorf("%w: '%s'", ErrInvalidPattern, pattern))
	}
	sub := &mux[C]{
		root:   m.root,
		parent: m,
		prefix: m.prefix + strings.TrimSuffix(pattern, "/"),
	}
	fn(sub)
	return sub
}

// Routes returns all registered routes in registration order.
func (m *mux[C]) Routes() []Route {
	return slices.Clone(m.root.routes)
}

func (m *mux[C]) handle(method, pattern string, fn handler.HandlerFunc[C]) {
	if pattern == "" || pattern[0] != '/' {
		panic(fmt.Errorf("%w: '%s'", ErrInvalidPattern, pattern))
	}
	if fn == nil {
		panic(fmt.Errorf("%w: nil handler for '%s'", ErrInvalidPattern, pattern))
	}

	full := m.prefix + pattern
	ep, ok := m.root.endpoints[full]
	if !ok {
		ep = &endpoint[C]{pattern: full, handlers: make(map[string]routeHandler[C])}
		m.root.endpoints[full] = ep
		m.root.serve.HandleFunc(servePattern(full), ep.serveHTTP)
	}
	ep.handlers[method] = routeHandler[C]{owner: m, fn: fn}
	m.root.routes = append(m.root.routes, Route{Method: method, Pattern: full})
}

// servePattern converts a route pattern into a ServeMux pattern.
// A trailing slash means an exact match rather than a subtree.
func servePattern(pattern string) string {
	if strings.HasSuffix(pattern, "/") {
		return pattern + "{$}"
	}
	return pattern
}
