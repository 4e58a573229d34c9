package websocket

import "errors"

var (
	// ErrSlowConsumer is returned when a connection's send queue is full. The connection is closed.
	ErrSlowConsumer = errors.New("slow consumer")

	// ErrClientClosed is returned when sending to a closed connection.
	ErrClientClosed = errors.New("client closed")

	// ErrShuttingDown is returned for upgrades attempted during shutdown.
	ErrShuttingDown = errors.New("websocket handler is shutting down")

	// ErrUpgradeRequired is returned for plain HTTP requests to the websocket endpoint.
	ErrUpgradeRequired = errors.New("websocket upgrade required")

	// ErrOriginNotAllowed is returned when the request origin fails the origin policy.
	ErrOriginNotAllowed = errors.New("origin not allowed")
)
