// Package health provides HTTP handlers for service health monitoring.
//
// Handlers:
//   - Liveness: process is running (no dependency checks)
//   - Readiness: all dependencies are available
//   - NoContent: 204 for minimal overhead
//
// Usage:
//
//	r.Get("/health/live", health.Liveness)
//	r.Get("/health/ready", health.Readiness(log, 2*time.Second,
//		redis.Healthcheck(client),
//		bb.Healthcheck,
//	))
//
// Checks follow the func(context.Context) error signature.
package health
