// Package middleware provides HTTP middleware for the relay's router:
// request ids, structured request logging, per-client rate limiting and
// request body limits.
//
// Every middleware is generic over handler.Context and comes in two forms,
// a default constructor and a WithConfig variant:
//
//	r := router.New[*router.Context]()
//	r.Use(
//		middleware.RequestID[*router.Context](),
//		middleware.LoggingWithLogger[*router.Context](log),
//	)
//
//	r.With(
//		middleware.RateLimitPerSecond[*router.Context](50),
//		middleware.BodyLimitWithSize[*router.Context](middleware.MB),
//	).Post("/api/tasks", createDocument)
//
// Request ids are stored on the request context; combine
// RequestIDExtractor with logger.WithContextExtractors so every log line
// written with that context carries the id.
package middleware
