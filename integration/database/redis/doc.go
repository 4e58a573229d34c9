// Package redis creates go-redis clients with connection verification and
// provides a readiness check.
//
//	client, err := redis.Connect(ctx, redis.Config{
//		ConnectionURL:  "redis://localhost:6379/0",
//		RetryAttempts:  3,
//		RetryInterval:  time.Second,
//		ConnectTimeout: 30 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	check := redis.Healthcheck(client)
//
// Connect parses redis:// and rediss:// URLs, then pings with exponential
// backoff until Redis answers, the attempts run out, or ConnectTimeout
// expires. ScanBatchSize is the COUNT hint used by callers that enumerate
// keys with SCAN.
//
// Errors: ErrEmptyConnectionURL, ErrFailedToParseRedisConnString,
// ErrRedisNotReady, ErrHealthcheckFailed. Match them with errors.Is.
package redis
