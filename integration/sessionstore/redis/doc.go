// Package redis implements session.Store on Redis.
//
// Each session is a hash at <prefix><sessionID> with the fields user_id and
// connected ("1" or "0"). Saves are a MULTI/EXEC of HSET and, when a TTL is
// configured, EXPIRE. FindAll walks the prefix with SCAN and loads the
// hashes in one pipeline.
//
//	store := redis.New(client,
//		redis.WithTTL(7*24*time.Hour),
//		redis.WithScanBatchSize(cfg.ScanBatchSize),
//	)
//
// Every Redis failure is reported as session.ErrStoreUnavailable.
package redis
