package gateway

import "errors"

var (
	ErrUnknownStore      = errors.New("unknown session store driver")
	ErrUnknownBackbone   = errors.New("unknown backbone driver")
	ErrBackboneStopped   = errors.New("backbone stopped unexpectedly")
	ErrDependencyFailure = errors.New("failed to open dependency")
)
