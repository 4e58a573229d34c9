package backbone

import "errors"

var (
	// ErrUnavailable is returned when the transport or membership backend cannot be reached.
	ErrUnavailable = errors.New("fan-out backbone unavailable")

	// ErrInvalidGroup is returned for empty or reserved group names.
	ErrInvalidGroup = errors.New("invalid group name")

	// ErrClosed is returned when publishing on a closed transport.
	ErrClosed = errors.New("transport is closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("backbone already started")

	// ErrNotRunning is returned by Healthcheck when the subscription loop is not running.
	ErrNotRunning = errors.New("backbone is not running")

	// ErrHealthcheckFailed wraps healthcheck failures.
	ErrHealthcheckFailed = errors.New("backbone healthcheck failed")
)
