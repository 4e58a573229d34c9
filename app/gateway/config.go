package gateway

import (
	"time"

	gw "github.com/dmitrymomot/wsgate/core/gateway"
	"github.com/dmitrymomot/wsgate/core/server"
	"github.com/dmitrymomot/wsgate/core/websocket"
	"github.com/dmitrymomot/wsgate/integration/backbone/nats"
	"github.com/dmitrymomot/wsgate/integration/database/mongo"
	"github.com/dmitrymomot/wsgate/integration/database/pg"
	"github.com/dmitrymomot/wsgate/integration/database/redis"
)

// Session store drivers.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// Backbone drivers.
const (
	BackboneMemory = "memory"
	BackboneRedis  = "redis"
	BackboneNATS   = "nats"
)

type Config struct {
	Server    server.Config
	Gateway   gw.Config
	WebSocket websocket.Config
	Redis     redis.Config
	Mongo     mongo.Config
	Postgres  pg.Config
	NATS      nats.Config

	AppName      string        `env:"APP_NAME" envDefault:"wsgate"`
	Env          string        `env:"APP_ENV" envDefault:"development"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	SessionStore string        `env:"SESSION_STORE" envDefault:"memory"`
	Backbone     string        `env:"BACKBONE" envDefault:"memory"`
	WSPath       string        `env:"WS_PATH" envDefault:"/ws"`
	ReadyTimeout time.Duration `env:"HEALTH_READY_TIMEOUT" envDefault:"5s"`
}

// IsProduction reports whether APP_ENV is "production".
func (c Config) IsProduction() bool {
	return c.Env == "production"
}
