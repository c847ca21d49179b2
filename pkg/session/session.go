package session

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vango-dev/syncore/pkg/connector"
	"github.com/vango-dev/syncore/pkg/protocol"
	"github.com/vango-dev/syncore/pkg/push"
	"github.com/vango-dev/syncore/pkg/rpc"
)

// InitFunc builds the connector graph of a new session.
type InitFunc func(ui *UI) error

// RPCObserver receives RPC dispatch timings, typically for metrics.
type RPCObserver interface {
	RPCDispatched(iface string, d time.Duration, err error)
}

// Option configures a Session.
type Option func(*Session)

// WithDispatcher sets the dispatcher for server RPC.
func WithDispatcher(d *rpc.Dispatcher) Option {
	return func(s *Session) {
		s.dispatcher = d
	}
}

// WithClock sets the clock used for heartbeats.
func WithClock(c clockwork.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPushObserver sets the observer of the push connection.
func WithPushObserver(o push.Observer) Option {
	return func(s *Session) {
		s.pushObserver = o
	}
}

// WithRPCObserver sets the observer of RPC dispatch.
func WithRPCObserver(o RPCObserver) Option {
	return func(s *Session) {
		s.rpcObserver = o
	}
}

// Session is the server-side state of one client.
type Session struct {
	id        string
	createdAt time.Time
	mode      PushMode

	// mu is the session lock. It guards everything below it.
	mu         sync.Mutex
	registry   *connector.Registry
	tracker    *connector.Tracker
	clientRPC  *rpc.Queue
	writer     *Writer
	push       *push.Connection
	dispatcher *rpc.Dispatcher
	data       map[string]any
	ui         *UI

	lastHeartbeat atomic.Int64
	closed        atomic.Bool

	clock        clockwork.Clock
	pushObserver push.Observer
	rpcObserver  RPCObserver
	logger       *slog.Logger
}

// New creates a session. Most callers use Manager.Create instead.
func New(id string, cfg *Config, opts ...Option) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Session{
		id:     id,
		mode:   cfg.PushMode,
		data:   make(map[string]any),
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session", "session_id", id)
	if s.dispatcher == nil {
		s.dispatcher = rpc.NewDispatcher(s.logger)
	}

	s.createdAt = s.clock.Now()
	s.lastHeartbeat.Store(s.createdAt.UnixNano())

	s.registry = connector.NewRegistry(s.logger)
	s.tracker = connector.NewTracker()
	s.clientRPC = rpc.NewQueue(nil)
	s.writer = NewWriter(s.registry, s.tracker, s.clientRPC)
	s.push = push.NewConnection(s.writer,
		push.WithLogger(s.logger),
		push.WithObserver(s.pushObserver),
		push.WithMaxMessageSize(cfg.MaxMessageSize),
	)
	s.ui = &UI{s: s}
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Mode returns the push mode.
func (s *Session) Mode() PushMode {
	return s.mode
}

// Access runs fn while holding the session lock. In automatic push mode the
// changes fn made are pushed before the lock is released; the push error is
// returned when fn succeeded.
func (s *Session) Access(fn func(ui *UI) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := fn(s.ui); err != nil {
		return err
	}
	if s.mode == PushAutomatic && s.hasPendingLocked() {
		return wrap(s.id, "push", s.push.Push(true))
	}
	return nil
}

// initialize runs fn under the lock without pushing; the initial state
// goes out with the first response.
func (s *Session) initialize(fn InitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.ui)
}

func (s *Session) hasPendingLocked() bool {
	return s.registry.HasChanges() || s.clientRPC.Len() > 0
}

// HandleClientMessage dispatches the server RPC of msg and pushes the
// response over the push connection, or records it as pending when no
// transport is attached. Dispatch and push errors are both returned.
func (s *Session) HandleClientMessage(msg *protocol.ClientMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}
	dispatchErr := s.dispatchLocked(msg)
	pushErr := wrap(s.id, "push", s.push.Push(false))
	return errors.Join(dispatchErr, pushErr)
}

// HandleRequest dispatches the server RPC of msg and returns the response
// message wrapped in the push envelope, for request/response transports.
func (s *Session) HandleRequest(msg *protocol.ClientMessage) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	dispatchErr := s.dispatchLocked(msg)

	var body bytes.Buffer
	if err := s.writer.WriteMessage(&body, false); err != nil {
		return nil, errors.Join(dispatchErr, wrap(s.id, "write response", err))
	}
	return protocol.WrapPush(body.Bytes()), dispatchErr
}

func (s *Session) dispatchLocked(msg *protocol.ClientMessage) error {
	if msg.SyncID > s.writer.LastSyncID() {
		return wrap(s.id, "dispatch", ErrFutureSyncID)
	}
	if msg.Resynchronize {
		s.logger.Info("client requested resynchronization")
		s.writer.RequestResync()
	}

	resolve := func(id string) (any, bool) {
		c, ok := s.registry.Get(id)
		return c, ok
	}
	for _, inv := range msg.RPC {
		start := time.Now()
		err := s.dispatcher.Dispatch(inv, resolve)
		if s.rpcObserver != nil {
			s.rpcObserver.RPCDispatched(inv.Interface, time.Since(start), err)
		}
		if err != nil {
			s.logger.Warn("rpc failed", "invocation", inv.String(), "error", err)
			return wrap(s.id, "dispatch", err)
		}
	}
	return nil
}

// AttachPush attaches a push transport, replacing any attached one, and
// flushes what was owed to the client.
func (s *Session) AttachPush(r push.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}
	return wrap(s.id, "connect", s.push.Connect(r))
}

// DetachPush disconnects r if it is still the attached transport and
// reports whether it was.
func (s *Session) DetachPush(r push.Resource) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.push.Attached(r) {
		return false
	}
	s.push.Disconnect()
	return true
}

// Receive feeds one incoming frame from r through the push connection. It
// returns the complete message, or nil while the message is partial.
func (s *Session) Receive(r push.Resource, frame io.Reader) (io.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.push.Attached(r) {
		return nil, ErrNotAttached
	}
	return s.push.ReceiveMessage(frame)
}

// PushState returns the state of the push connection.
func (s *Session) PushState() push.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.push.State()
}

// Heartbeat records client liveness.
func (s *Session) Heartbeat() {
	s.lastHeartbeat.Store(s.clock.Now().UnixNano())
}

// LastHeartbeat returns the time of the last heartbeat.
func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastHeartbeat.Load())
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Close disconnects the push transport and rejects further access.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Swap(true) {
		return
	}
	if s.push.IsConnected() {
		s.push.Disconnect()
	}
	s.logger.Debug("session closed")
}
