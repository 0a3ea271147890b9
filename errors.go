package camrelay

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientMiss is returned (possibly wrapped) by a Device when a
	// single acquisition attempt produced no frame but the device is still
	// usable.
	ErrTransientMiss = errors.New("transient capture miss")

	ErrSequenceReset = errors.New("frame sequence index did not increase")

	ErrRelayClosed     = errors.New("relay closed")
	ErrDeliveryTimeout = errors.New("no frame available before delivery timeout")

	ErrSessionNotStarted = errors.New("session not started")
	ErrSessionStopped    = errors.New("session stopped")
)

// FatalSourceError ends a session. It wraps the device error that caused
// it.
type FatalSourceError struct {
	Cause error

	// ConsecutiveMisses is non-zero if the source gave up after too many
	// transient misses in a row.
	ConsecutiveMisses int
}

func (e *FatalSourceError) Error() string {
	if e.ConsecutiveMisses > 0 {
		return fmt.Sprintf("fatal source error after %d consecutive misses: %v", e.ConsecutiveMisses, e.Cause)
	}
	return fmt.Sprintf("fatal source error: %v", e.Cause)
}

func (e *FatalSourceError) Unwrap() error {
	return e.Cause
}
