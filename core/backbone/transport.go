package backbone

import (
	"context"
	"encoding/json"
)

// Message is the unit moved between instances by a Transport.
type Message struct {
	Group   string          `json:"group"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Except  []string        `json:"except,omitempty"`
	Origin  string          `json:"origin,omitempty"`
}

// Transport moves messages between gateway instances. Every instance that
// subscribed receives every published message, the publisher included.
// Messages from one publisher arrive in publish order.
type Transport interface {
	// Publish sends msg to all subscribed instances.
	Publish(ctx context.Context, msg Message) error

	// Subscribe returns the stream of messages for this instance. The channel
	// is closed when ctx is cancelled or the transport is closed.
	Subscribe(ctx context.Context) (<-chan Message, error)

	// Close releases resources.
	Close() error
}

// Membership is the cluster-wide relation group name -> set of connection IDs.
// Join and Leave must report the resulting set size atomically with the
// mutation, so concurrent callers on different instances see distinct sizes.
type Membership interface {
	Join(ctx context.Context, group, member string) (int64, error)
	Leave(ctx context.Context, group, member string) (int64, error)
	Count(ctx context.Context, group string) (int64, error)
}

// Purger is implemented by Membership backends that track which node added
// each member. Purge drops every member added by the local node and returns
// the groups left empty as a result.
type Purger interface {
	Purge(ctx context.Context) ([]string, error)
}
