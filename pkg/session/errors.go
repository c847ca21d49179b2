package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for session operations.
var (
	// ErrSessionClosed is returned when an operation is attempted on a closed session.
	ErrSessionClosed = errors.New("session: closed")

	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrPushDisabled is returned by UI.Push when push is disabled.
	ErrPushDisabled = errors.New("session: push disabled")

	// ErrNotAttached is returned when a transport that is no longer the
	// attached one delivers a message.
	ErrNotAttached = errors.New("session: transport not attached")

	// ErrFutureSyncID is returned when a client claims a sync id the
	// server never sent.
	ErrFutureSyncID = errors.New("session: client sync id is ahead of server")

	// ErrMaxSessionsReached is returned when the session limit is reached.
	ErrMaxSessionsReached = errors.New("session: max sessions reached")
)

// Error wraps an error with session context.
type Error struct {
	SessionID string
	Op        string
	Err       error
}

// Error returns the error message with session context.
func (e *Error) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(sessionID, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{SessionID: sessionID, Op: op, Err: err}
}
