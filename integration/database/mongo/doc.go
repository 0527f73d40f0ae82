// Package mongo creates MongoDB clients with retrying startup.
//
// New connects and pings the primary, retrying RetryAttempts times with
// RetryInterval between attempts, which covers Atlas cold starts:
//
//	client, err := mongo.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Disconnect(context.Background())
//
//	coll := client.Database(cfg.Database).Collection(cfg.Collection)
//
// Configuration comes from MONGODB_* variables:
//
//	MONGODB_URL                 (required when STORE_DRIVER=mongo)
//	MONGODB_CONNECT_TIMEOUT     (default: 10s)
//	MONGODB_MAX_POOL_SIZE       (default: 100)
//	MONGODB_MIN_POOL_SIZE       (default: 1)
//	MONGODB_MAX_CONN_IDLE_TIME  (default: 300s)
//	MONGODB_RETRY_WRITES        (default: true)
//	MONGODB_RETRY_READS         (default: true)
//	MONGODB_RETRY_ATTEMPTS      (default: 3)
//	MONGODB_RETRY_INTERVAL      (default: 5s)
//	MONGODB_DATABASE            (default: cluster_data)
//	MONGODB_COLLECTION          (default: scraped_data)
//
// ErrFailedToConnectToMongo wraps the last connection error once retries
// are exhausted; ErrHealthcheckFailed wraps ping failures.
package mongo
