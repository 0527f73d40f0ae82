// Package redis creates go-redis clients with connection verification.
//
// Connect validates the URL (redis:// or rediss://), then pings with
// retries until the server answers or the connect timeout passes:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Healthcheck adapts a client to the func(context.Context) error shape used
// by readiness probes.
//
// Settings come from REDIS_URL, REDIS_RETRY_ATTEMPTS, REDIS_RETRY_INTERVAL
// and REDIS_CONNECT_TIMEOUT.
package redis
