package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/wsgate/core/backbone"
	"github.com/dmitrymomot/wsgate/core/logger"
)

// DefaultChannel is the pub/sub channel shared by all gateway instances.
const DefaultChannel = "wsgate:backbone"

// Transport moves backbone messages over a single Redis pub/sub channel.
// Redis delivers messages from one publisher connection in order.
type Transport struct {
	client  redis.UniversalClient
	channel string
	buffer  int
	logger  *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
}

var _ backbone.Transport = (*Transport)(nil)

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithChannel sets the pub/sub channel name.
func WithChannel(name string) TransportOption {
	return func(t *Transport) {
		if name != "" {
			t.channel = name
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

// WithLogger sets the logger for undecodable messages.
func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransport creates a pub/sub transport on client.
func NewTransport(client redis.UniversalClient, opts ...TransportOption) *Transport {
	t := &Transport{
		client:  client,
		channel: DefaultChannel,
		buffer:  1024,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Publish(ctx context.Context, msg backbone.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, t.channel, data).Err()
}

// Subscribe subscribes to the channel and waits for the confirmation, so
// messages published after it returns are not missed.
func (t *Transport) Subscribe(ctx context.Context) (<-chan backbone.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, backbone.ErrClosed
	}
	if t.pubsub != nil {
		return nil, errors.New("redis transport: already subscribed")
	}

	ps := t.client.Subscribe(ctx, t.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	t.pubsub = ps

	in := ps.Channel(redis.WithChannelSize(t.buffer))
	out := make(chan backbone.Message, t.buffer)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				var msg backbone.Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					t.logger.Warn("undecodable backbone message", logger.Error(err))
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					_ = ps.Close()
					return
				}
			}
		}
	}()

	return out, nil
}

// Close ends the subscription. The client is left open.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.pubsub != nil {
		return t.pubsub.Close()
	}
	return nil
}
