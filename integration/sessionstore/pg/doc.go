// Package pg implements session.Store on PostgreSQL.
//
// Sessions live in the gateway_sessions table, created by the embedded goose
// migrations (see Migrate). Save is a single INSERT ... ON CONFLICT DO UPDATE.
//
//	if err := pg.Migrate(ctx, pool, log); err != nil {
//		return err
//	}
//	store := pg.New(pool)
package pg
