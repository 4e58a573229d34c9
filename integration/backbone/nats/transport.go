package nats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/dmitrymomot/wsgate/core/backbone"
	"github.com/dmitrymomot/wsgate/core/logger"
)

// Transport moves backbone messages over one core NATS subject. Messages
// are not persisted; a node that is disconnected misses what was sent
// meanwhile, the same as with Redis pub/sub.
type Transport struct {
	conn    *nats.Conn
	subject string
	buffer  int
	logger  *slog.Logger

	mu     sync.Mutex
	sub    *nats.Subscription
	closed bool
}

var _ backbone.Transport = (*Transport)(nil)

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithSubject sets the subject name.
func WithSubject(subject string) TransportOption {
	return func(t *Transport) {
		if subject != "" {
			t.subject = subject
		}
	}
}

// WithBuffer sets how many received messages may wait for delivery.
func WithBuffer(n int) TransportOption {
	return func(t *Transport) {
		if n > 0 {
			t.buffer = n
		}
	}
}

func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransport creates a transport on conn.
func NewTransport(conn *nats.Conn, opts ...TransportOption) *Transport {
	t := &Transport{
		conn:    conn,
		subject: "wsgate.backbone",
		buffer:  1024,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewTransportFromConfig creates a transport using the subject and buffer
// from cfg.
func NewTransportFromConfig(conn *nats.Conn, cfg Config, opts ...TransportOption) *Transport {
	return NewTransport(conn, append([]TransportOption{WithSubject(cfg.Subject), WithBuffer(cfg.Buffer)}, opts...)...)
}

func (t *Transport) Publish(ctx context.Context, msg backbone.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.conn.Publish(t.subject, data)
}

// Subscribe subscribes to the subject and flushes, so the server has
// registered the interest before it returns.
func (t *Transport) Subscribe(ctx context.Context) (<-chan backbone.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, backbone.ErrClosed
	}
	if t.sub != nil {
		return nil, errors.New("nats transport: already subscribed")
	}

	in := make(chan *nats.Msg, t.buffer)
	sub, err := t.conn.ChanSubscribe(t.subject, in)
	if err != nil {
		return nil, err
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	t.sub = sub

	out := make(chan backbone.Message, t.buffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-in:
				var msg backbone.Message
				if err := json.Unmarshal(m.Data, &msg); err != nil {
					t.logger.Warn("undecodable backbone message", logger.Error(err))
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close ends the subscription. The connection is left open.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.sub != nil && t.sub.IsValid() {
		return t.sub.Unsubscribe()
	}
	return nil
}
