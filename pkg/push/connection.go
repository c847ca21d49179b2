package push

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/vango-dev/syncore/internal/errors"
	"github.com/vango-dev/syncore/pkg/protocol"
)

// State is the state of a push connection.
type State int

const (
	// Disconnected means no transport is attached and nothing is owed.
	Disconnected State = iota

	// PushPending means an asynchronous push is owed to the client.
	PushPending

	// ResponsePending means a response to a client message is owed.
	ResponsePending

	// Connected means a transport is attached.
	Connected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case PushPending:
		return "PUSH_PENDING"
	case ResponsePending:
		return "RESPONSE_PENDING"
	case Connected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transport names the kind of channel behind a Resource.
type Transport string

const (
	TransportWebSocket   Transport = "websocket"
	TransportLongPolling Transport = "long-polling"
)

// Resource is an attached transport. Implementations must be comparable;
// pointer types are.
type Resource interface {
	// Broadcast hands msg to the transport for delivery to its single
	// recipient. It must not block on network I/O.
	Broadcast(msg []byte) error

	// Resume releases the resource back to its owner.
	Resume()

	// Transport reports the kind of channel.
	Transport() Transport
}

// MessageWriter writes the body of the next server → client message: the
// members of a JSON object without the surrounding braces.
type MessageWriter interface {
	WriteMessage(w io.Writer, async bool) error
}

// MessageWriterFunc adapts a function to MessageWriter.
type MessageWriterFunc func(w io.Writer, async bool) error

// WriteMessage calls f(w, async).
func (f MessageWriterFunc) WriteMessage(w io.Writer, async bool) error {
	return f(w, async)
}

// Observer receives push events, typically for metrics.
type Observer interface {
	PushSent(transport string, async, deferred bool, size int)
	PushDeferred(state string)
	PushFailed(transport string)
	MessageReceived(transport string, fragmented bool)
}

type nopObserver struct{}

func (nopObserver) PushSent(string, bool, bool, int) {}
func (nopObserver) PushDeferred(string)              {}
func (nopObserver) PushFailed(string)                {}
func (nopObserver) MessageReceived(string, bool)     {}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver sets the push event observer.
func WithObserver(o Observer) Option {
	return func(c *Connection) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithMaxMessageSize bounds the size of reassembled client messages.
func WithMaxMessageSize(n int) Option {
	return func(c *Connection) {
		c.reassembler.MaxMessageSize = n
	}
}

// Connection is the push connection of one UI.
type Connection struct {
	state       State
	resource    Resource
	writer      MessageWriter
	reassembler protocol.Reassembler
	observer    Observer
	logger      *slog.Logger
}

// NewConnection creates a disconnected push connection that composes its
// messages with w.
func NewConnection(w MessageWriter, opts ...Option) *Connection {
	c := &Connection{
		writer:   w,
		observer: nopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "push_connection")
	return c
}

// Push sends the pending changes of the UI to the client. When no transport
// is attached the push is recorded and performed by the next Connect.
// async is true for server-initiated pushes and false for responses to a
// client message.
//
// A failure to compose or send the message is returned as a transport
// error; the connection state is left unchanged.
func (c *Connection) Push(async bool) error {
	if !c.IsConnected() {
		if async && c.state != ResponsePending {
			c.state = PushPending
		} else {
			c.state = ResponsePending
		}
		c.observer.PushDeferred(c.state.String())
		c.logger.Debug("push deferred", "state", c.state.String())
		return nil
	}
	return c.send(async, false)
}

func (c *Connection) send(async, deferred bool) error {
	transport := string(c.resource.Transport())

	var body bytes.Buffer
	if err := c.writer.WriteMessage(&body, async); err != nil {
		c.observer.PushFailed(transport)
		return errors.New("S301").Wrap(err)
	}

	msg := protocol.WrapPush(body.Bytes())
	if err := c.resource.Broadcast(msg); err != nil {
		c.observer.PushFailed(transport)
		return errors.New("S301").Wrap(err)
	}

	c.observer.PushSent(transport, async, deferred, len(msg))
	c.logger.Debug("push sent", "transport", transport, "async", async, "bytes", len(msg))
	return nil
}

// Connect attaches r, replacing any attached resource, and performs the
// push owed from before. The error of that push is returned.
// Connect panics when r is nil or already attached.
func (c *Connection) Connect(r Resource) error {
	if r == nil {
		errors.Panicf("S206", "push resource must not be nil")
	}
	if r == c.resource {
		errors.Panicf("S206", "push resource is already attached")
	}

	if c.IsConnected() {
		c.Disconnect()
	}

	old := c.state
	c.resource = r
	c.state = Connected
	c.reassembler.Reset()
	c.checkInvariant()

	c.logger.Debug("push connected", "transport", string(r.Transport()), "previous", old.String())

	if old == PushPending || old == ResponsePending {
		return c.send(old == PushPending, true)
	}
	return nil
}

// Disconnect releases the attached resource. Calling it while disconnected
// is a programming error and panics.
func (c *Connection) Disconnect() {
	if !c.IsConnected() {
		errors.Panicf("S204", "disconnect called in state %s", c.state)
	}
	transport := c.resource.Transport()
	c.resource.Resume()
	c.resource = nil
	c.state = Disconnected
	c.reassembler.Reset()
	c.checkInvariant()

	c.logger.Debug("push disconnected", "transport", string(transport))
}

// IsConnected reports whether a transport is attached.
func (c *Connection) IsConnected() bool {
	c.checkInvariant()
	return c.state == Connected
}

// State returns the current state.
func (c *Connection) State() State {
	c.checkInvariant()
	return c.state
}

// Transport returns the transport of the attached resource, or "" when
// disconnected.
func (c *Connection) Transport() Transport {
	if !c.IsConnected() {
		return ""
	}
	return c.resource.Transport()
}

// Attached reports whether r is the attached resource.
func (c *Connection) Attached(r Resource) bool {
	c.checkInvariant()
	return r != nil && c.resource == r
}

// ReceiveMessage processes one incoming frame from the attached transport.
// WebSocket frames go through length-prefixed reassembly: the result is a
// reader over the complete message, or nil while the message is partial.
// Frames of other transports are returned unchanged.
//
// A protocol error discards the partial message and is returned.
func (c *Connection) ReceiveMessage(r io.Reader) (io.Reader, error) {
	if !c.IsConnected() {
		return nil, errors.New("S303").WithMessagef("message received while %s", c.state)
	}
	transport := c.resource.Transport()
	if transport != TransportWebSocket {
		c.observer.MessageReceived(string(transport), false)
		return r, nil
	}

	fragmented := c.reassembler.Pending()
	msg, err := c.reassembler.Receive(r)
	if err != nil {
		c.logger.Warn("discarding client message", "error", err)
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	c.observer.MessageReceived(string(transport), fragmented)
	return msg, nil
}

func (c *Connection) checkInvariant() {
	if (c.state == Connected) != (c.resource != nil) {
		errors.Panicf("S205", "push connection in state %s with resource attached = %t",
			c.state, c.resource != nil)
	}
}
