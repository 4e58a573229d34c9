package session

import "errors"

var (
	// ErrNotFound is returned when a session cannot be found in the store.
	ErrNotFound = errors.New("session not found")
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrInvalidSession is returned when saving a session without an ID or user ID.
	ErrInvalidSession = errors.New("session ID and user ID are required")
)
