// Package health provides liveness and readiness handlers.
//
//	r.Get("/health/live", health.Liveness[*router.Context])
//	r.Get("/health/ready", health.Readiness[*router.Context](log,
//		health.Check{Name: "mongo", Fn: mongo.Healthcheck(client)},
//		health.Check{Name: "queue", Fn: worker.Healthcheck},
//	))
//
// Readiness runs all checks concurrently and answers 503 when any fails.
package health
