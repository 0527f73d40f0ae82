// Package response contains handler.Response constructors and error handlers.
//
// A handler returns a Response; the router executes it and forwards any error
// to the configured error handler:
//
//	r.Get("/api/data", func(ctx *router.Context) handler.Response {
//		docs, err := store.Find(ctx, nil)
//		if err != nil {
//			return response.Error(err)
//		}
//		return response.JSON(map[string]any{"data": docs})
//	})
//
// JSONErrorHandler renders HTTPError values as {"error":{"code","message","details"}}.
// Errors that implement StatusCode() int map to the predefined HTTPError for
// that status; everything else becomes a 500 with the cause hidden.
//
// WebSocket wraps a gorilla/websocket upgrade. The router's response writer
// implements http.Hijacker, so upgrades work through middleware.
package response
