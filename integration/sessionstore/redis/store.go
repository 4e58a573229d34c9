package redis

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/wsgate/core/session"
)

const (
	fieldUserID    = "user_id"
	fieldConnected = "connected"

	// DefaultKeyPrefix namespaces session hashes.
	DefaultKeyPrefix = "wsgate:session:"
)

// Store keeps each session in its own Redis hash. FindAll enumerates
// sessions with SCAN over the key prefix.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	ttl       time.Duration
	scanBatch int64
}

var _ session.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix sets the key namespace. Defaults to DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires a session this long after its last save. Zero keeps sessions forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithScanBatchSize sets the SCAN COUNT hint used by FindAll.
func WithScanBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.scanBatch = int64(n)
		}
	}
}

// New creates a Redis-backed session store.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		prefix:    DefaultKeyPrefix,
		scanBatch: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Find(ctx context.Context, id string) (session.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return session.Session{}, unavailable(err)
	}
	if len(fields) == 0 {
		return session.Session{}, session.ErrNotFound
	}
	return decode(id, fields), nil
}

func (s *Store) Save(ctx context.Context, sess session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	key := s.key(sess.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldUserID, sess.UserID, fieldConnected, encodeBool(sess.Connected))
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// FindAll scans every session key. Cost grows with the number of stored sessions.
func (s *Store) FindAll(ctx context.Context) ([]session.Session, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", s.scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable(err)
	}
	if len(keys) == 0 {
		return []session.Session{}, nil
	}

	// SCAN may return a key more than once.
	slices.Sort(keys)
	keys = slices.Compact(keys)

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	sessions := make([]session.Session, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Expired between SCAN and HGETALL.
			continue
		}
		sessions = append(sessions, decode(strings.TrimPrefix(keys[i], s.prefix), fields))
	}
	return sessions, nil
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func decode(id string, fields map[string]string) session.Session {
	return session.Session{
		ID:        id,
		UserID:    fields[fieldUserID],
		Connected: fields[fieldConnected] == "1",
	}
}

func encodeBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func unavailable(err error) error {
	return errors.Join(session.ErrStoreUnavailable, err)
}
