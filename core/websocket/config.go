package websocket

import "time"

// Config holds transport settings loaded from the environment.
type Config struct {
	ReadBufferSize   int           `env:"WS_READ_BUFFER_SIZE" envDefault:"1024"`
	WriteBufferSize  int           `env:"WS_WRITE_BUFFER_SIZE" envDefault:"1024"`
	HandshakeTimeout time.Duration `env:"WS_HANDSHAKE_TIMEOUT" envDefault:"10s"`
	WriteTimeout     time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	PongTimeout      time.Duration `env:"WS_PONG_TIMEOUT" envDefault:"60s"`
	PingInterval     time.Duration `env:"WS_PING_INTERVAL" envDefault:"50s"`
	MaxMessageSize   int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536"`
	SendQueueSize    int           `env:"WS_SEND_QUEUE_SIZE" envDefault:"256"`
	AllowedOrigins   []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	RetryAfter       time.Duration `env:"WS_RETRY_AFTER" envDefault:"5s"`

	// Inbound frames per connection: MessageBurst at once, then MessageRate
	// per MessageInterval. MessageBurst 0 disables the limit.
	MessageBurst    int           `env:"WS_MESSAGE_BURST" envDefault:"0"`
	MessageRate     int           `env:"WS_MESSAGE_RATE" envDefault:"10"`
	MessageInterval time.Duration `env:"WS_MESSAGE_INTERVAL" envDefault:"1s"`
}

// DefaultConfig returns the values used when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PongTimeout:      60 * time.Second,
		PingInterval:     50 * time.Second,
		MaxMessageSize:   64 << 10,
		SendQueueSize:    256,
		RetryAfter:       5 * time.Second,
		MessageRate:      10,
		MessageInterval:  time.Second,
	}
}
