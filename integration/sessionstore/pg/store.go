package pg

import (
	"context"
	"embed"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/wsgate/core/session"
	"github.com/dmitrymomot/wsgate/integration/database/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MigrationsTable records applied session-store migrations.
const MigrationsTable = "gateway_migrations"

const (
	queryFind = `SELECT session_id, user_id, connected FROM gateway_sessions WHERE session_id = $1`

	queryFindAll = `SELECT session_id, user_id, connected FROM gateway_sessions ORDER BY session_id`

	querySave = `INSERT INTO gateway_sessions (session_id, user_id, connected, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (session_id) DO UPDATE
SET user_id = EXCLUDED.user_id, connected = EXCLUDED.connected, updated_at = now()`
)

// Store keeps sessions in the gateway_sessions table.
type Store struct {
	pool *pgxpool.Pool
}

var _ session.Store = (*Store)(nil)

// New creates a session store on pool. Call Migrate once before use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates or upgrades the gateway_sessions table.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	return pg.MigrateFS(ctx, pool, migrations, "migrations", MigrationsTable, log)
}

func (s *Store) Find(ctx context.Context, id string) (session.Session, error) {
	var sess session.Session
	err := s.pool.QueryRow(ctx, queryFind, id).Scan(&sess.ID, &sess.UserID, &sess.Connected)
	switch {
	case pg.IsNotFoundError(err):
		return session.Session{}, session.ErrNotFound
	case err != nil:
		return session.Session{}, errors.Join(session.ErrStoreUnavailable, err)
	}
	return sess, nil
}

func (s *Store) Save(ctx context.Context, sess session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, querySave, sess.ID, sess.UserID, sess.Connected); err != nil {
		return errors.Join(session.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) FindAll(ctx context.Context) ([]session.Session, error) {
	rows, err := s.pool.Query(ctx, queryFindAll)
	if err != nil {
		return nil, errors.Join(session.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	sessions := []session.Session{}
	for rows.Next() {
		var sess session.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Connected); err != nil {
			return nil, errors.Join(session.ErrStoreUnavailable, err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(session.ErrStoreUnavailable, err)
	}
	return sessions, nil
}
