package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vango-dev/syncore/pkg/bundle"
	"github.com/vango-dev/syncore/pkg/protocol"
	"github.com/vango-dev/syncore/pkg/session"
)

// Sentinel errors for transport conditions.
var (
	// ErrConnectionClosed is returned when a push is handed to a
	// transport that has been released.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrSendQueueFull is returned when a WebSocket connection does not
	// drain its send queue fast enough.
	ErrSendQueueFull = errors.New("server: send queue full")

	// ErrPollCompleted is returned when a long-polling request already
	// carries a message.
	ErrPollCompleted = errors.New("server: long-polling request already completed")
)

// RequestError wraps an error with request context for logging.
type RequestError struct {
	SessionID string
	Op        string // Operation that failed
	Err       error  // Underlying error
}

// Error returns the error message with request context.
func (e *RequestError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// statusFor maps an error to the HTTP status reported to the client.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, bundle.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrMaxSessionsReached):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrFutureSyncID),
		errors.Is(err, protocol.ErrMalformedMessage),
		errors.Is(err, protocol.ErrInvalidLength):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the status for err with its standard text. Internal
// details never reach the client.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	http.Error(w, http.StatusText(status), status)
}
