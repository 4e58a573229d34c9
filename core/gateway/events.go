package gateway

import "encoding/json"

// Event names exchanged with clients.
const (
	EventSession          = "session"
	EventUsers            = "users"
	EventUserConnected    = "user connected"
	EventUserDisconnected = "user disconnected"
	EventPrivateMessage   = "private message"
	EventError            = "error"
)

// SessionInfo is sent to a connection right after it is bound.
type SessionInfo struct {
	SessionID string `json:"sessionID"`
	UserID    string `json:"userID"`
}

// PresenceEvent announces a user's transition between offline and online.
type PresenceEvent struct {
	UserID    string `json:"userID"`
	Connected bool   `json:"connected"`
}

// PrivateMessage is the relayed form of a private message. Sender is always
// set by the gateway from the bound connection, never taken from the client.
type PrivateMessage struct {
	Sender   string          `json:"sender"`
	Receiver string          `json:"receiver"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ErrorInfo is sent back to a connection whose inbound frame was rejected.
type ErrorInfo struct {
	Message string `json:"message"`
}

type inboundPrivateMessage struct {
	Receiver string          `json:"receiver"`
	Payload  json.RawMessage `json:"payload"`
}
