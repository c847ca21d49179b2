package protocol

import "github.com/vango-dev/syncore/internal/errors"

// Protocol errors. Returned errors carry the same codes, so they match these
// sentinels with errors.Is.
var (
	// ErrInvalidLength is returned when a length prefix is missing, empty,
	// not a decimal number or out of range.
	ErrInvalidLength = errors.New("S101")

	// ErrFragmentOverflow is returned when more bytes arrive than the
	// declared message length.
	ErrFragmentOverflow = errors.New("S102")

	// ErrInvalidEnvelope is returned when a push message lacks the guard
	// prefix or the surrounding array.
	ErrInvalidEnvelope = errors.New("S103")

	// ErrMalformedMessage is returned when a message body cannot be decoded.
	ErrMalformedMessage = errors.New("S104")
)
