// Package pg creates pgx connection pools, applies goose migrations and
// classifies common PostgreSQL errors.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	// Migrations from disk (PG_MIGRATIONS_PATH) ...
//	err = pg.Migrate(ctx, pool, cfg, log)
//	// ... or embedded in the binary.
//	err = pg.MigrateFS(ctx, pool, migrations, "migrations", "gateway_migrations", log)
//
//	check := pg.Healthcheck(pool)
//
// goose works on database/sql, so migrations run over a *sql.DB opened on
// top of the pgx pool with pgx/v5/stdlib.
package pg
