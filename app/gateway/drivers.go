package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/wsgate/core/backbone"
	"github.com/dmitrymomot/wsgate/core/logger"
	"github.com/dmitrymomot/wsgate/core/session"
	natsbackbone "github.com/dmitrymomot/wsgate/integration/backbone/nats"
	redisbackbone "github.com/dmitrymomot/wsgate/integration/backbone/redis"
	"github.com/dmitrymomot/wsgate/integration/database/mongo"
	"github.com/dmitrymomot/wsgate/integration/database/pg"
	"github.com/dmitrymomot/wsgate/integration/database/redis"
	mongostore "github.com/dmitrymomot/wsgate/integration/sessionstore/mongo"
	pgstore "github.com/dmitrymomot/wsgate/integration/sessionstore/pg"
	redisstore "github.com/dmitrymomot/wsgate/integration/sessionstore/redis"
)

// redisClient connects on first use so the store and the backbone share one
// client when both run on Redis.
func (a *App) redisClient(ctx context.Context) (goredis.UniversalClient, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := redis.Connect(ctx, a.config.Redis)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.onClose(client.Close)
	a.checks = append(a.checks, redis.Healthcheck(client))
	return client, nil
}

func (a *App) openStore(ctx context.Context) (session.Store, error) {
	log := a.logger.With(logger.Component("session_store"), slog.String("driver", a.config.SessionStore))

	switch a.config.SessionStore {
	case "", StoreMemory:
		return session.NewMemoryStore(), nil

	case StoreRedis:
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return redisstore.New(client, redisstore.WithScanBatchSize(a.config.Redis.ScanBatchSize)), nil

	case StoreMongo:
		client, err := mongo.New(ctx, a.config.Mongo)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { return client.Disconnect(context.Background()) })
		a.checks = append(a.checks, mongo.Healthcheck(client))

		store := mongostore.New(client.Database(a.config.Mongo.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "session indexes ensured")
		return store, nil

	case StorePostgres:
		pool, err := pg.Connect(ctx, a.config.Postgres)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { pool.Close(); return nil })
		a.checks = append(a.checks, pg.Healthcheck(pool))

		if err := pgstore.Migrate(ctx, pool, log); err != nil {
			return nil, err
		}
		return pgstore.New(pool), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownStore, a.config.SessionStore)
}

func (a *App) openBackbone(ctx context.Context, nodeID string) (*backbone.Backbone, error) {
	log := a.logger.With(logger.Component("backbone"), slog.String("driver", a.config.Backbone))
	opts := []backbone.Option{backbone.WithNodeID(nodeID), backbone.WithLogger(log)}

	switch a.config.Backbone {
	case "", BackboneMemory:
		return backbone.New(backbone.NewBus(1024).Transport(), backbone.NewMemoryMembership(), opts...), nil

	case BackboneRedis:
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return backbone.New(
			redisbackbone.NewTransport(client, redisbackbone.WithLogger(log)),
			redisbackbone.NewMembership(client, nodeID),
			opts...,
		), nil

	case BackboneNATS:
		// NATS carries messages; membership stays in Redis.
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		conn, err := natsbackbone.Connect(a.config.NATS)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { return conn.Drain() })
		a.checks = append(a.checks, natsbackbone.Healthcheck(conn))
		return backbone.New(
			natsbackbone.NewTransportFromConfig(conn, a.config.NATS, natsbackbone.WithLogger(log)),
			redisbackbone.NewMembership(client, nodeID),
			opts...,
		), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownBackbone, a.config.Backbone)
}

// nodeID must survive restarts for Recover to find what a crashed run left
// behind, so the hostname is preferred over a random ID.
func (a *App) nodeID() string {
	if a.config.Gateway.NodeID != "" {
		return a.config.Gateway.NodeID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases dependencies in reverse order of opening.
func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
