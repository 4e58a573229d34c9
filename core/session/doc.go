// Package session defines the shared Session Store used by gateway instances.
//
// A Session binds an opaque session ID to the user that owns it and records
// whether that session was last seen connected. The store is external to any
// single gateway process: every instance reads and writes through the Store
// interface and never treats a local cache as ground truth.
//
// # Contract
//
//   - Find(ctx, id): exact lookup, ErrNotFound when absent
//   - Save(ctx, sess): idempotent upsert with last-writer-wins semantics
//   - FindAll(ctx): full enumeration, used once per connect to seed the roster
//
// FindAll is a known scalability ceiling. Its cost is proportional to the total
// number of sessions ever created (minus whatever the backend expires).
//
// # Errors
//
//   - ErrNotFound: no session under the given ID
//   - ErrStoreUnavailable: the backend could not be reached; check with errors.Is
//   - ErrInvalidSession: Save called without ID or UserID
//
// # Implementations
//
// MemoryStore lives in this package. Durable adapters for Redis, MongoDB and
// PostgreSQL live under integration/sessionstore.
package session
