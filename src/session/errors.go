package session

import (
	"errors"
	"fmt"

	"redissess/src/locksess"
)

// ErrConcurrentConnectionsExceeded is re-exported so callers can errors.Is
// against the session package without reaching into locksess directly.
var ErrConcurrentConnectionsExceeded = locksess.ErrConcurrentConnectionsExceeded

// ConnectionError wraps the cause of a failed construction-time connection
// attempt (direct or Sentinel). It is non-recoverable: callers must build a
// new Handler.
type ConnectionError struct {
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: connection failed: %v", e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// NewConnectionError wraps cause as a ConnectionError.
func NewConnectionError(cause error) error {
	return &ConnectionError{Cause: cause}
}

// IsConcurrentConnectionsExceeded reports whether err is (or wraps) the
// admission-control rejection a host framework should translate to HTTP 503.
func IsConcurrentConnectionsExceeded(err error) bool {
	return errors.Is(err, ErrConcurrentConnectionsExceeded)
}
