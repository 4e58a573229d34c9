// Package gateway assembles a runnable presence and messaging server from
// environment configuration.
//
// SESSION_STORE picks where session records live (memory, redis, mongo,
// postgres) and BACKBONE picks how instances exchange messages (memory,
// redis, nats). Anything other than memory makes the instance part of a
// cluster: every instance must point at the same Redis for membership.
//
//	a, err := gateway.NewApp(ctx)
//	if err != nil {
//		return err
//	}
//	return a.Run(ctx)
//
// Routes:
//
//	WS_PATH          websocket endpoint (default: /ws)
//	/health/live     liveness probe
//	/health/ready    readiness probe over every opened dependency
//	/metrics         Prometheus metrics
package gateway
