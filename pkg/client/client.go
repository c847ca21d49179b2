package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/vango-dev/syncore/pkg/bundle"
	"github.com/vango-dev/syncore/pkg/metrics"
	"github.com/vango-dev/syncore/pkg/protocol"
	"github.com/vango-dev/syncore/pkg/rpc"
)

// Sentinel errors for client operations.
var (
	// ErrClosed is returned when the client has been closed.
	ErrClosed = errors.New("client: closed")

	// ErrSessionExpired is returned when the server no longer knows the
	// session.
	ErrSessionExpired = errors.New("client: session expired")

	// ErrUnknownConnector is returned when a message refers to a connector
	// the mirror does not know.
	ErrUnknownConnector = errors.New("client: unknown connector")
)

// ChangeFunc is called after a message was applied with the ids of the
// connectors whose type or state changed.
type ChangeFunc func(m *Mirror, changed []string)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBundles gates messages on the bundles providing their connector
// types. A nil source fetches from the server's /bundles endpoint.
func WithBundles(source bundle.Source, bundles ...bundle.Bundle) Option {
	return func(c *Client) {
		c.bundleSource = source
		c.bundles = bundles
	}
}

// WithClientRPC sets the dispatcher for client RPC. Handlers receive the
// target as a *Connector.
func WithClientRPC(d *rpc.Dispatcher) Option {
	return func(c *Client) {
		c.dispatcher = d
	}
}

// WithOnChange sets the change callback. It runs on the client's event
// loop.
func WithOnChange(fn ChangeFunc) Option {
	return func(c *Client) {
		c.onChange = fn
	}
}

// WithHTTPClient replaces the retrying HTTP client used for session
// creation, heartbeats and bundles.
func WithHTTPClient(hc *retryablehttp.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithMetrics records reconnects and bundle loads.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client mirrors one server session. All mirror access, RPC calls and
// bundle callbacks run on a single event loop goroutine; use Do or Post
// from other goroutines.
type Client struct {
	config  *Config
	baseURL *url.URL
	http    *retryablehttp.Client
	dialer  *websocket.Dialer
	metrics *metrics.Collector
	logger  *slog.Logger

	bundleSource bundle.Source
	bundles      []bundle.Bundle
	onChange     ChangeFunc

	ctx    context.Context
	cancel context.CancelFunc
	events chan func()
	wg     sync.WaitGroup

	mu        sync.Mutex
	sessionID string
	err       error
	started   bool

	// Owned by the event loop.
	mirror          *Mirror
	loader          *bundle.Loader
	dispatcher      *rpc.Dispatcher
	queue           *rpc.Queue
	conn            *websocket.Conn
	pending         []*protocol.ServerMessage
	waiting         bool
	draining        bool
	resyncRequested bool
	flushPending    bool
}

// New creates a client for the server described by cfg. It does not
// connect; call Dial.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, errors.New("client: base url is required")
	}
	cfg = cfg.Clone()
	defaults := DefaultConfig()
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.ReconnectInitialInterval == 0 {
		cfg.ReconnectInitialInterval = defaults.ReconnectInitialInterval
	}
	if cfg.ReconnectMaxInterval == 0 {
		cfg.ReconnectMaxInterval = defaults.ReconnectMaxInterval
	}
	if cfg.MaxFragmentSize <= 0 {
		cfg.MaxFragmentSize = defaults.MaxFragmentSize
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("client: parsing base url: %w", err)
	}

	c := &Client{
		config:    cfg,
		baseURL:   u,
		dialer:    websocket.DefaultDialer,
		logger:    slog.Default(),
		events:    make(chan func(), 64),
		sessionID: cfg.SessionID,
		mirror:    NewMirror(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "client")
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if c.http == nil {
		c.http = retryablehttp.NewClient()
		c.http.RetryMax = 3
		c.http.Logger = c.logger
	}
	if c.dispatcher == nil {
		c.dispatcher = rpc.NewDispatcher(c.logger)
	}
	c.queue = rpc.NewQueue(c.flush)

	if c.bundleSource == nil {
		src, err := bundle.NewHTTPSource(cfg.BaseURL, bundle.WithHTTPClient(c.http))
		if err != nil {
			return nil, err
		}
		c.bundleSource = src
	}
	loaderOpts := []bundle.Option{
		bundle.WithPost(c.Post),
		bundle.WithContext(c.ctx),
		bundle.WithLogger(c.logger),
	}
	if c.metrics != nil {
		loaderOpts = append(loaderOpts, bundle.WithObserver(c.metrics))
	}
	c.loader = bundle.NewLoader(c.bundleSource, c.bundles, loaderOpts...)
	return c, nil
}

// SessionID returns the id of the mirrored session, or "" before Dial.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Err returns the error that stopped the client, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the client stops.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Dial creates a session unless one was configured, opens the push
// channel and starts the event loop. ctx bounds the handshake only.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("client: already dialed")
	}
	c.started = true
	c.mu.Unlock()

	var initial *protocol.ServerMessage
	if c.SessionID() == "" {
		id, msg, err := c.createSession(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.sessionID = id
		c.mu.Unlock()
		initial = msg
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.wg.Add(2)
	go c.run()
	c.Post(func() { c.preload(bundle.EagerBundle) })
	// The initial message goes first so pushes read from the connection
	// are applied after it.
	if initial != nil {
		c.Post(func() { c.receive(initial) })
	}
	go c.connLoop(conn)
	c.logger.Info("client connected", "session_id", c.SessionID())
	return nil
}

// Close stops the client and closes the connection.
func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

// Post runs fn on the event loop.
func (c *Client) Post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.ctx.Done():
	}
}

// Do runs fn on the event loop with the mirror and waits for it.
func (c *Client) Do(ctx context.Context, fn func(m *Mirror) error) error {
	errCh := make(chan error, 1)
	select {
	case c.events <- func() { errCh <- fn(c.mirror) }:
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Proxy returns a server RPC proxy for a connector. Calls must be made on
// the event loop, inside Do or Post.
func (c *Client) Proxy(iface *rpc.Interface, connectorID string) *rpc.Proxy {
	p := rpc.NewProxy(iface)
	p.Init(connectorID, c.queue)
	return p
}

// Loader returns the bundle loader. It must only be used on the event loop.
func (c *Client) Loader() *bundle.Loader {
	return c.loader
}

func (c *Client) run() {
	defer c.wg.Done()

	var heartbeat <-chan time.Time
	if c.config.HeartbeatInterval > 0 {
		ticker := time.NewTicker(c.config.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case fn := <-c.events:
			fn()
		case <-heartbeat:
			go c.heartbeat()
		case <-c.ctx.Done():
			return
		}
	}
}

// connLoop reads from the connection and reconnects after transport
// errors until the client is closed or the session is gone.
func (c *Client) connLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		stop := context.AfterFunc(c.ctx, func() { conn.Close() })
		c.Post(func() { c.attach(conn) })
		err := c.readLoop(conn)
		c.Post(func() { c.detach(conn) })
		stop()
		conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("push connection lost", "error", err)

		conn, err = c.reconnect()
		if err != nil {
			c.fail(err)
			return
		}
		c.metrics.Reconnect()
		c.logger.Info("push connection restored")
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		obj, err := protocol.UnwrapPush(data)
		if err != nil {
			c.logger.Warn("dropping malformed push", "error", err)
			continue
		}
		msg, err := protocol.DecodeServerMessage(obj)
		if err != nil {
			c.logger.Warn("dropping malformed push", "error", err)
			continue
		}
		c.Post(func() { c.receive(msg) })
	}
}

func (c *Client) reconnect() (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.ReconnectInitialInterval
	b.MaxInterval = c.config.ReconnectMaxInterval
	b.MaxElapsedTime = c.config.ReconnectMaxElapsed

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		cn, err := c.dial(c.ctx)
		if err != nil {
			if errors.Is(err, ErrSessionExpired) {
				return backoff.Permanent(err)
			}
			c.logger.Debug("reconnect failed", "error", err)
			return err
		}
		conn = cn
		return nil
	}, backoff.WithContext(b, c.ctx))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.logger.Error("client stopped", "error", err)
	c.cancel()
}

func (c *Client) pushURL() string {
	u := c.baseURL.JoinPath("push", c.SessionID())
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.pushURL(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone) {
			return nil, fmt.Errorf("%w: %s", ErrSessionExpired, resp.Status)
		}
		return nil, fmt.Errorf("client: dialing push channel: %w", err)
	}
	return conn, nil
}

// createResponse mirrors the body of POST /session.
type createResponse struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (c *Client) createSession(ctx context.Context) (string, *protocol.ServerMessage, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath("session").String(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("client: creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("client: creating session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", nil, fmt.Errorf("client: creating session: status %s", resp.Status)
	}

	var body createResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", nil, fmt.Errorf("client: decoding session response: %w", err)
	}
	obj, err := protocol.UnwrapPush([]byte(body.Message))
	if err != nil {
		return "", nil, err
	}
	msg, err := protocol.DecodeServerMessage(obj)
	if err != nil {
		return "", nil, err
	}
	return body.SessionID, msg, nil
}

func (c *Client) heartbeat() {
	ctx, cancel := context.WithTimeout(c.ctx, c.config.WriteTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL.JoinPath("heartbeat", c.SessionID()).String(), nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if c.ctx.Err() == nil {
			c.logger.Warn("heartbeat failed", "error", err)
		}
		return
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		c.fail(fmt.Errorf("%w: heartbeat status %s", ErrSessionExpired, resp.Status))
	}
}

// attach makes conn the outbound connection and sends what was queued
// while disconnected.
func (c *Client) attach(conn *websocket.Conn) {
	c.conn = conn
	if c.flushPending || c.queue.Len() > 0 {
		c.flushPending = false
		c.flush()
	}
}

func (c *Client) detach(conn *websocket.Conn) {
	if c.conn == conn {
		c.conn = nil
	}
}

// receive queues msg behind earlier messages still waiting for bundles.
func (c *Client) receive(msg *protocol.ServerMessage) {
	c.pending = append(c.pending, msg)
	c.drain()
}

// drain applies queued messages in order. A message whose connector types
// need bundles that are not loaded yet blocks the queue until the loader
// reports back.
func (c *Client) drain() {
	if c.draining {
		return
	}
	c.draining = true
	defer func() { c.draining = false }()

	for !c.waiting && len(c.pending) > 0 {
		msg := c.pending[0]
		c.waiting = true
		c.loader.Require(typeIdentifiers(msg), bundle.Funcs{
			OnLoaded: func() {
				c.release(msg)
			},
			OnFailed: func(err error) {
				c.logger.Error("bundle load failed", "sync_id", msg.SyncID, "error", err)
				c.release(msg)
			},
		})
	}
}

func (c *Client) release(msg *protocol.ServerMessage) {
	c.pending = c.pending[1:]
	c.waiting = false
	c.process(msg)
	c.drain()
}

func typeIdentifiers(msg *protocol.ServerMessage) []string {
	ids := make([]string, 0, len(msg.Types))
	for _, typ := range msg.Types {
		ids = append(ids, typ)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// process applies one message to the mirror and runs its client RPC.
func (c *Client) process(msg *protocol.ServerMessage) {
	last := c.mirror.LastSyncID()
	if !msg.Resynchronize && last >= 0 && msg.SyncID != last+1 {
		if msg.SyncID <= last {
			c.logger.Debug("ignoring stale message", "sync_id", msg.SyncID, "last", last)
			return
		}
		c.logger.Warn("sync id gap", "expected", last+1, "got", msg.SyncID)
		c.requestResync()
		return
	}
	if msg.Resynchronize {
		c.resyncRequested = false
	}

	changed, err := c.mirror.Apply(msg)
	if err != nil {
		c.logger.Warn("inconsistent message", "sync_id", msg.SyncID, "error", err)
		c.requestResync()
		return
	}
	if err := c.dispatcher.DispatchAll(msg.RPC, c.mirror.resolve); err != nil {
		c.logger.Warn("client rpc failed", "sync_id", msg.SyncID, "error", err)
	}
	if c.onChange != nil && len(changed) > 0 {
		c.onChange(c.mirror, changed)
	}
	if last < 0 {
		c.preload(bundle.DeferredBundle)
	}
}

// preload starts loading a reserved bundle when the application declared
// it. Failures are logged by the loader.
func (c *Client) preload(name string) {
	if !c.loader.Declared(name) || c.loader.State(name) != bundle.NotStarted {
		return
	}
	c.logger.Debug("preloading bundle", "bundle", name)
	c.loader.LoadBundle(name, nil)
}

func (c *Client) requestResync() {
	// Without a connection the next message after reconnecting asks again.
	if c.resyncRequested || c.conn == nil {
		return
	}
	c.resyncRequested = true
	c.send(&protocol.ClientMessage{
		SyncID:        c.mirror.LastSyncID(),
		Resynchronize: true,
		RPC:           c.queue.Flush(),
	})
}

// flush is the RPC queue's flush hook.
func (c *Client) flush() {
	if c.conn == nil {
		c.flushPending = true
		return
	}
	invs := c.queue.Flush()
	if len(invs) == 0 {
		return
	}
	c.send(&protocol.ClientMessage{SyncID: c.mirror.LastSyncID(), RPC: invs})
}

// send frames cm and writes it in fragments of at most MaxFragmentSize.
func (c *Client) send(cm *protocol.ClientMessage) {
	if c.conn == nil {
		c.logger.Warn("dropping client message while disconnected", "rpc", len(cm.RPC))
		return
	}
	data, err := protocol.EncodeClientMessage(cm)
	if err != nil {
		c.logger.Error("encoding client message", "error", err)
		return
	}
	for _, frame := range protocol.Fragment(protocol.EncodeFramed(data), c.config.MaxFragmentSize) {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.logger.Warn("write failed", "error", err)
			// The read side notices and reconnects.
			c.conn.Close()
			return
		}
	}
}
