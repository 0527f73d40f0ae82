// Package router maps HTTP requests to typed handlers.
//
// Handlers return a handler.Response instead of writing directly; the router
// renders it and sends any returned error to the configured error handler.
// Unmatched paths yield ErrNotFound, known paths with an unregistered method
// yield ErrMethodNotAllowed with an Allow header, and handler panics are
// recovered into a PanicError.
//
// Matching is delegated to net/http ServeMux patterns, so path parameters
// and wildcards follow its syntax:
//
//	r := router.New[*router.Context](
//		router.WithErrorHandler(response.JSONErrorHandler[*router.Context]),
//	)
//
//	r.Route("/api", func(api router.Router[*router.Context]) {
//		api.Get("/", health)
//		api.Get("/data", listDocuments)
//		api.Delete("/data/{id}", func(ctx *router.Context) handler.Response {
//			id := ctx.Param("id")
//			// ...
//		})
//	})
//
// A trailing slash on a pattern matches that exact path only.
//
// Middleware registered with Use applies to routes of the router or group it
// was called on and to all nested groups. With and Group create inline
// groups that share the parent's prefix.
package router
