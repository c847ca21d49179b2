package protocol

// Version identifies the wire protocol: framing, push envelope and message
// schemas. It changes whenever one of them does.
const Version = 1

// Framing constants.
const (
	// MessageDelimiter separates the decimal length prefix from the payload.
	MessageDelimiter = '|'

	// WebSocketBufferSize is the largest physical frame the push transport
	// is configured to accept.
	WebSocketBufferSize = 65536

	// MaxFragmentSize is the largest physical frame a sender produces when
	// splitting a framed message. The margin leaves room for the length
	// prefix in the first frame.
	MaxFragmentSize = WebSocketBufferSize - 20

	// DefaultMaxMessageSize is the default upper bound for a declared
	// message length (16MB).
	DefaultMaxMessageSize = 16 * 1024 * 1024

	// maxLengthDigits bounds the length prefix so a stream without a
	// delimiter is rejected early.
	maxLengthDigits = 10
)
