package gateway

import "errors"

var (
	// ErrHandshakeRejected is returned when neither a resumable session nor a user ID was presented.
	ErrHandshakeRejected = errors.New("invalid user ID")

	// ErrUnknownEvent is returned for inbound events the gateway does not handle.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrInvalidMessage is returned for inbound payloads that fail to decode or validate.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrConnClosed is returned when operating on a connection that was already disconnected.
	ErrConnClosed = errors.New("connection closed")

	// ErrNotBound is returned when an identity that did not pass the handshake is bound.
	ErrNotBound = errors.New("connection is not bound")

	// ErrInvalidPresencePolicy is returned when parsing an unknown presence policy name.
	ErrInvalidPresencePolicy = errors.New("invalid presence policy")
)
