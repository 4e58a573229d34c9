// Package mongo creates MongoDB clients with connection verification and
// provides a readiness check.
//
//	client, err := mongo.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Disconnect(ctx)
//
//	db := client.Database(cfg.Database)
//	check := mongo.Healthcheck(client)
//
// Configuration (environment):
//
//	MONGODB_URL                 (required)
//	MONGODB_DATABASE            (default: wsgate)
//	MONGODB_CONNECT_TIMEOUT     (default: 10s)
//	MONGODB_MAX_POOL_SIZE       (default: 100)
//	MONGODB_MIN_POOL_SIZE       (default: 1)
//	MONGODB_MAX_CONN_IDLE_TIME  (default: 300s)
//	MONGODB_RETRY_WRITES        (default: true)
//	MONGODB_RETRY_READS         (default: true)
//	MONGODB_RETRY_ATTEMPTS      (default: 3)
//	MONGODB_RETRY_INTERVAL      (default: 5s)
//
// New retries the connect-and-ping sequence RetryAttempts times so that
// managed clusters waking from idle do not fail application startup.
package mongo
