package health

import (
	"github.com/dmitrymomot/docrelay/core/handler"
	"github.com/dmitrymomot/docrelay/core/response"
)

// Liveness reports that the process is serving requests. It checks no dependencies.
func Liveness[C handler.Context](C) handler.Response {
	return response.String("ALIVE")
}

// NoContent answers 204 with no body.
func NoContent[C handler.Context](C) handler.Response {
	return response.NoContent()
}
