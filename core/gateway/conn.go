package gateway

import (
	"sync"

	"github.com/google/uuid"
)

// State is the lifecycle state of a bound connection. Handshake outcomes
// (resumed, new, rejected) are reported by Handshake itself, before a Conn
// exists.
type State int

const (
	StateBound State = iota + 1
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink writes outbound events to one physical connection. Send must not
// block; implementations queue the frame or fail fast.
type Sink interface {
	Send(event string, data []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event string, data []byte) error

func (f SinkFunc) Send(event string, data []byte) error { return f(event, data) }

// Conn is a connection bound to a session. Its identity never changes after Bind.
type Conn struct {
	id        string
	sessionID string
	userID    string
	degraded  bool
	sink      Sink

	mu    sync.Mutex
	state State
}

func newConn(id Identity, sink Sink) *Conn {
	return &Conn{
		id:        uuid.NewString(),
		sessionID: id.SessionID,
		userID:    id.UserID,
		degraded:  id.Degraded,
		sink:      sink,
		state:     StateBound,
	}
}

// ID returns the connection ID, unique per physical connection.
func (c *Conn) ID() string { return c.id }

// SessionID returns the bound session ID.
func (c *Conn) SessionID() string { return c.sessionID }

// UserID returns the bound user ID.
func (c *Conn) UserID() string { return c.userID }

// State returns the current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Deliver hands an event to the connection's sink.
func (c *Conn) Deliver(event string, payload []byte) error {
	if c.State() != StateBound {
		return ErrConnClosed
	}
	return c.sink.Send(event, payload)
}

// close flips the state to closed and reports whether this call did it.
func (c *Conn) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = StateClosed
	return true
}
