package router

import (
	"net/http"

	"github.com/dmitrymomot/docrelay/core/handler"
)

// Router registers typed handlers and serves them over net/http.
type Router[C handler.Context] interface {
	http.Handler
	Routes

	Get(pattern string, h handler.HandlerFunc[C])
	Post(pattern string, h handler.HandlerFunc[C])
	Put(pattern string, h handler.HandlerFunc[C])
	Delete(pattern string, h handler.HandlerFunc[C])
	Patch(pattern string, h handler.HandlerFunc[C])

	// Handle registers h for every method.
	Handle(pattern string, h handler.HandlerFunc[C])
	Method(pattern string, h handler.HandlerFunc[C], methods ...string)

	Use(middlewares ...handler.Middleware[C])
	With(middlewares ...handler.Middleware[C]) Router[C]

	Group(fn func(r Router[C])) Router[C]
	Route(pattern string, fn func(r Router[C])) Router[C]
}

// Routes provides route introspection.
type Routes interface {
	Routes() []Route
}

// Route describes a registered method and pattern.
type Route struct {
	Method  string
	Pattern string
}

// New creates a router. Path parameters use net/http pattern syntax,
// e.g. "/api/data/{id}", and are read with Context.Param.
func New[C handler.Context](opts ...Option[C]) Router[C] {
	return newMux[C](opts...)
}
