package nats

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	ErrEmptyConnectionURL = errors.New("empty nats connection URL")
	ErrFailedToConnect    = errors.New("failed to connect to nats")
	ErrHealthcheckFailed  = errors.New("nats healthcheck failed")
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Name          string        `env:"NATS_NAME" envDefault:"wsgate"`
	Subject       string        `env:"NATS_SUBJECT" envDefault:"wsgate.backbone"`
	Timeout       time.Duration `env:"NATS_TIMEOUT" envDefault:"3s"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"500ms"`
	MaxReconnects int           `env:"NATS_MAX_RECONNECTS" envDefault:"-1"`
	Buffer        int           `env:"NATS_BUFFER" envDefault:"1024"`
}

// Connect dials the servers in cfg.URL (comma separated). Once connected the
// client reconnects on its own; MaxReconnects -1 means forever.
func Connect(cfg Config) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyConnectionURL
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Join(ErrFailedToConnect, err)
	}
	return conn, nil
}

// Healthcheck returns a readiness check that round-trips a PING to the
// server.
func Healthcheck(conn *nats.Conn) func(context.Context) error {
	return func(ctx context.Context) error {
		if !conn.IsConnected() {
			return errors.Join(ErrHealthcheckFailed, nats.ErrConnectionClosed)
		}
		if err := conn.FlushWithContext(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
