// Package nats provides a NATS implementation of the backbone Transport.
//
// NATS carries messages only. Group membership still needs a shared store,
// so a NATS transport is paired with the Redis membership:
//
//	conn, err := nats.Connect(cfg)
//	if err != nil {
//		return err
//	}
//	defer conn.Drain()
//
//	bb := backbone.New(
//		nats.NewTransportFromConfig(conn, cfg),
//		redis.NewMembership(redisClient, nodeID),
//		backbone.WithNodeID(nodeID),
//	)
//
// Configuration (environment):
//
//	NATS_URL             (default: nats://localhost:4222)
//	NATS_NAME            (default: wsgate)
//	NATS_SUBJECT         (default: wsgate.backbone)
//	NATS_TIMEOUT         (default: 3s)
//	NATS_RECONNECT_WAIT  (default: 500ms)
//	NATS_MAX_RECONNECTS  (default: -1)
//	NATS_BUFFER          (default: 1024)
package nats
