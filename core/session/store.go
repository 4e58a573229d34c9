package session

import "context"

// Store is the shared key-value store of session state. It is the single
// source of truth for which logical sessions exist and whether they were last
// seen connected. Implementations must be safe for concurrent use from many
// gateway instances.
//
// Backend failures are reported wrapped with ErrStoreUnavailable.
type Store interface {
	// Find returns the session stored under id, or ErrNotFound.
	Find(ctx context.Context, id string) (Session, error)

	// Save upserts the session under its ID. Last writer wins.
	Save(ctx context.Context, sess Session) error

	// FindAll enumerates every known session. Cost grows with the total
	// number of sessions, so callers invoke it once per connect, never per message.
	FindAll(ctx context.Context) ([]Session, error)
}
