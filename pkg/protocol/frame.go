package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/vango-dev/syncore/internal/errors"
)

// FragmentedMessage is a message that can arrive as multiple physical frames.
//
// Wire format:
//
//	┌──────────────────────┬───────────┬─────────────────────────────┐
//	│ Length (ASCII digits)│ Delimiter │ Payload (Length bytes)      │
//	│ variable             │ '|'       │ may span several frames     │
//	└──────────────────────┴───────────┴─────────────────────────────┘
type FragmentedMessage struct {
	message bytes.Buffer
	length  int
}

// NewFragmentedMessage reads the length prefix of a new message from r.
// The reader is left positioned at the first payload byte.
func NewFragmentedMessage(r io.ByteReader, maxSize int) (*FragmentedMessage, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	var digits []byte
	for {
		c, err := r.ReadByte()
		if err == io.EOF {
			return nil, errors.New("S101").
				WithMessagef("message length %q not terminated by %q", digits, MessageDelimiter)
		}
		if err != nil {
			return nil, err
		}
		if c == MessageDelimiter {
			break
		}
		if c < '0' || c > '9' {
			return nil, errors.New("S101").
				WithMessagef("invalid character %q in message length %q", c, digits)
		}
		if len(digits) == maxLengthDigits {
			return nil, errors.New("S101").
				WithMessagef("message length prefix longer than %d characters", maxLengthDigits)
		}
		digits = append(digits, c)
	}

	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, errors.New("S101").WithMessagef("invalid message length %q", digits).Wrap(err)
	}
	if length < 0 || length > maxSize {
		return nil, errors.New("S101").WithMessagef("message length %d out of range [0, %d]", length, maxSize)
	}

	return &FragmentedMessage{length: length}, nil
}

// Append appends all the data from r to the message and reports whether the
// message is complete. Receiving more data than declared returns an error
// wrapping ErrFragmentOverflow; the excess is never stored.
func (m *FragmentedMessage) Append(r io.Reader) (bool, error) {
	buf := make([]byte, WebSocketBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if m.message.Len()+n > m.length {
				return false, errors.New("S102").
					WithMessagef("received %d bytes, expected %d", m.message.Len()+n, m.length)
			}
			m.message.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, err
		}
	}
	return m.message.Len() == m.length, nil
}

// Len returns the number of payload bytes received so far.
func (m *FragmentedMessage) Len() int {
	return m.message.Len()
}

// Length returns the declared payload length.
func (m *FragmentedMessage) Length() int {
	return m.length
}

// Reader returns a fresh reader over the payload received so far.
func (m *FragmentedMessage) Reader() io.Reader {
	return bytes.NewReader(bytes.Clone(m.message.Bytes()))
}

// Reassembler turns a sequence of physical frames into complete messages.
// It holds at most one partially received message. It is not safe for
// concurrent use.
type Reassembler struct {
	// MaxMessageSize bounds declared message lengths.
	// Default: DefaultMaxMessageSize.
	MaxMessageSize int

	incoming *FragmentedMessage
}

// Receive consumes one physical frame. It returns a reader yielding the
// complete message when the frame completed one, and nil while the message
// is still partial. On any error the partial message is discarded so the
// next frame starts a new message.
func (ra *Reassembler) Receive(frame io.Reader) (io.Reader, error) {
	br, ok := frame.(interface {
		io.Reader
		io.ByteReader
	})
	if !ok {
		br = bufio.NewReader(frame)
	}

	if ra.incoming == nil {
		msg, err := NewFragmentedMessage(br, ra.MaxMessageSize)
		if err != nil {
			return nil, err
		}
		ra.incoming = msg
	}

	complete, err := ra.incoming.Append(br)
	if err != nil {
		ra.incoming = nil
		return nil, err
	}
	if !complete {
		return nil, nil
	}

	r := ra.incoming.Reader()
	ra.incoming = nil
	return r, nil
}

// Pending reports whether a partial message is in progress.
func (ra *Reassembler) Pending() bool {
	return ra.incoming != nil
}

// Reset discards any partial message.
func (ra *Reassembler) Reset() {
	ra.incoming = nil
}

// EncodeFramed prefixes payload with its length and the message delimiter.
func EncodeFramed(payload []byte) []byte {
	prefix := strconv.Itoa(len(payload))
	buf := make([]byte, 0, len(prefix)+1+len(payload))
	buf = append(buf, prefix...)
	buf = append(buf, MessageDelimiter)
	return append(buf, payload...)
}

// Fragment splits data into physical frames of at most size bytes.
// A non-positive size returns data as a single frame.
func Fragment(data []byte, size int) [][]byte {
	if size <= 0 || len(data) <= size {
		return [][]byte{data}
	}
	frames := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := min(size, len(data))
		frames = append(frames, data[:n])
		data = data[n:]
	}
	return frames
}
