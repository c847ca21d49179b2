package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/syncore/pkg/bundle"
	"github.com/vango-dev/syncore/pkg/connector"
	"github.com/vango-dev/syncore/pkg/protocol"
	"github.com/vango-dev/syncore/pkg/rpc"
	"github.com/vango-dev/syncore/pkg/server"
	"github.com/vango-dev/syncore/pkg/session"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type counterState struct {
	Value int `json:"value"`
}

type counter struct {
	connector.Base
	state counterState
	ui    *session.UI
}

func (c *counter) TypeIdentifier() string { return "test.Counter" }
func (c *counter) SharedState() any       { return &c.state }

var (
	counterRPC       = rpc.NewInterface("test.CounterServerRpc", rpc.Method{Name: "increment"})
	counterClientRPC = rpc.NewInterface("test.CounterClientRpc", rpc.Method{Name: "notify"})
)

func newSyncServer(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()
	d := rpc.NewDispatcher(quietLogger)
	d.Register(counterRPC, "increment", rpc.Method1(func(c *counter, by int) error {
		c.state.Value += by
		c.ui.MarkDirty(c)
		return nil
	}))
	m := session.NewManager(session.DefaultConfig(),
		session.WithManagerLogger(quietLogger),
		session.WithServerRPC(d),
		session.WithInit(func(ui *session.UI) error {
			c := &counter{ui: ui}
			ui.Register(c)
			ui.Set("counter", c)
			return nil
		}))
	srv := server.New(m, nil, server.WithLogger(quietLogger))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = m.Shutdown(context.Background())
	})
	return srv, ts
}

// changes collects mirror snapshots of connector "0" from the event loop.
type changes struct {
	ch chan int
}

func newChanges() *changes {
	return &changes{ch: make(chan int, 16)}
}

func (c *changes) onChange(m *Mirror, ids []string) {
	for _, id := range ids {
		if id != "0" {
			continue
		}
		conn, _ := m.Get(id)
		var s counterState
		if err := conn.DecodeState(&s); err == nil {
			c.ch <- s.Value
		}
	}
}

func (c *changes) wait(t *testing.T, want int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-c.ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("counter never reached %d", want)
		}
	}
}

func TestClientEndToEnd(t *testing.T) {
	srv, ts := newSyncServer(t)

	notified := make(chan string, 1)
	clientRPC := rpc.NewDispatcher(quietLogger)
	clientRPC.Register(counterClientRPC, "notify", rpc.Method1(func(c *Connector, msg string) error {
		notified <- c.ID() + ":" + msg
		return nil
	}))

	seen := newChanges()
	c, err := New(&Config{BaseURL: ts.URL},
		WithLogger(quietLogger),
		WithClientRPC(clientRPC),
		WithOnChange(seen.onChange))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Dial(ctx); err != nil {
		t.Fatalf("Dial error = %v", err)
	}
	seen.wait(t, 0)

	// Server RPC from the client.
	err = c.Do(ctx, func(*Mirror) error {
		return c.Proxy(counterRPC, "0").Call("increment", 4)
	})
	if err != nil {
		t.Fatalf("Call error = %v", err)
	}
	seen.wait(t, 4)

	// Server-initiated push with a client RPC.
	sess, err := srv.Sessions().Get(c.SessionID())
	if err != nil {
		t.Fatal(err)
	}
	err = sess.Access(func(ui *session.UI) error {
		cnt := ui.Get("counter").(*counter)
		cnt.state.Value = 9
		ui.MarkDirty(cnt)
		return ui.ClientProxy(counterClientRPC, cnt).Call("notify", "hello")
	})
	if err != nil {
		t.Fatalf("Access error = %v", err)
	}
	seen.wait(t, 9)

	select {
	case got := <-notified:
		if got != "0:hello" {
			t.Errorf("notify = %q, want %q", got, "0:hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client rpc was not dispatched")
	}
}

// pump runs one event posted to the loop of an undialed client.
func pump(t *testing.T, c *Client) {
	t.Helper()
	select {
	case fn := <-c.events:
		fn()
	case <-time.After(5 * time.Second):
		t.Fatal("no event posted")
	}
}

func TestClientHoldsMessagesUntilBundleLoads(t *testing.T) {
	release := make(chan struct{})
	src := bundle.SourceFunc(func(ctx context.Context, name string) ([]byte, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []byte(`{"types":{"test.Counter":{"properties":["value"]}}}`), nil
	})

	c, err := New(&Config{BaseURL: "http://127.0.0.1:0"},
		WithLogger(quietLogger),
		WithBundles(src, bundle.Bundle{Name: "counter", Identifiers: []string{"test.Counter"}}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.receive(&protocol.ServerMessage{
		SyncID: 0,
		Types:  map[string]string{"0": "test.Counter"},
		State:  map[string]protocol.StateDelta{"0": {"value": json.RawMessage("1")}},
	})
	c.receive(&protocol.ServerMessage{
		SyncID: 1,
		State:  map[string]protocol.StateDelta{"0": {"value": json.RawMessage("5")}},
	})
	if c.mirror.LastSyncID() != -1 || len(c.pending) != 2 {
		t.Fatalf("applied before bundle loaded: last sync id %d, %d pending",
			c.mirror.LastSyncID(), len(c.pending))
	}

	close(release)
	pump(t, c)

	if !c.loader.IsBundleLoaded("counter") {
		t.Fatal("bundle not loaded")
	}
	if c.mirror.LastSyncID() != 1 || len(c.pending) != 0 {
		t.Fatalf("last sync id %d, %d pending; want 1, 0", c.mirror.LastSyncID(), len(c.pending))
	}
	conn, _ := c.mirror.Get("0")
	var s counterState
	if err := conn.DecodeState(&s); err != nil {
		t.Fatal(err)
	}
	if s.Value != 5 {
		t.Errorf("value = %d, want 5", s.Value)
	}
	if _, ok := c.loader.TypeDataStore().Get("test.Counter"); !ok {
		t.Error("type data not recorded")
	}
}

func TestClientAppliesMessagesAfterBundleFailure(t *testing.T) {
	src := bundle.SourceFunc(func(context.Context, string) ([]byte, error) {
		return nil, errors.New("unreachable")
	})
	c, err := New(&Config{BaseURL: "http://127.0.0.1:0"},
		WithLogger(quietLogger),
		WithBundles(src, bundle.Bundle{Name: "counter", Identifiers: []string{"test.Counter"}}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.receive(&protocol.ServerMessage{SyncID: 0, Types: map[string]string{"0": "test.Counter"}})
	pump(t, c)

	if c.mirror.LastSyncID() != 0 {
		t.Errorf("LastSyncID() = %d, want 0", c.mirror.LastSyncID())
	}
	if c.loader.State("counter") != bundle.Failed {
		t.Errorf("bundle state = %s, want ERROR", c.loader.State("counter"))
	}
}

// frameRecorder is a push endpoint that reassembles client messages.
type frameRecorder struct {
	mu       sync.Mutex
	messages []*protocol.ClientMessage
	accepted atomic.Int32
	reject   atomic.Bool
	conns    chan *websocket.Conn
}

func newFrameRecorder(t *testing.T) (*frameRecorder, *httptest.Server) {
	t.Helper()
	rec := &frameRecorder{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.reject.Load() {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rec.accepted.Add(1)
		rec.conns <- conn

		var ra protocol.Reassembler
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := ra.Receive(bytes.NewReader(frame))
			if err != nil || msg == nil {
				continue
			}
			cm, err := protocol.DecodeClientMessage(msg)
			if err != nil {
				continue
			}
			rec.mu.Lock()
			rec.messages = append(rec.messages, cm)
			rec.mu.Unlock()
		}
	}))
	t.Cleanup(ts.Close)
	return rec, ts
}

func (r *frameRecorder) waitMessage(t *testing.T) *protocol.ClientMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.messages) > 0 {
			m := r.messages[0]
			r.messages = r.messages[1:]
			r.mu.Unlock()
			return m
		}
		r.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no client message received")
	return nil
}

func dialRecorder(t *testing.T, ts *httptest.Server, cfg *Config) *Client {
	t.Helper()
	cfg.BaseURL = ts.URL
	cfg.SessionID = "s1"
	c, err := New(cfg, WithLogger(quietLogger))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Dial(ctx); err != nil {
		t.Fatalf("Dial error = %v", err)
	}
	return c
}

func waitAttached(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var attached bool
		_ = c.Do(context.Background(), func(*Mirror) error {
			attached = c.conn != nil
			return nil
		})
		if attached {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("connection never attached")
}

func TestClientFragmentsLargeMessages(t *testing.T) {
	rec, ts := newFrameRecorder(t)
	c := dialRecorder(t, ts, &Config{MaxFragmentSize: 16})

	arg := strings.Repeat("x", 200)
	err := c.Do(context.Background(), func(*Mirror) error {
		return c.Proxy(counterRPC, "0").Call("increment", arg)
	})
	if err != nil {
		t.Fatal(err)
	}

	cm := rec.waitMessage(t)
	if len(cm.RPC) != 1 || cm.RPC[0].Method != "increment" {
		t.Fatalf("rpc = %+v, want one increment", cm.RPC)
	}
	var got string
	if err := json.Unmarshal(cm.RPC[0].Args[0], &got); err != nil || got != arg {
		t.Errorf("argument = %q (%v), want %d x's", got, err, len(arg))
	}
}

func TestClientRequestsResyncOnGap(t *testing.T) {
	rec, ts := newFrameRecorder(t)
	c := dialRecorder(t, ts, &Config{})
	waitAttached(t, c)

	c.Post(func() {
		c.receive(&protocol.ServerMessage{SyncID: 0, Types: map[string]string{"0": "test.Counter"}})
		c.receive(&protocol.ServerMessage{SyncID: 2})
		c.receive(&protocol.ServerMessage{SyncID: 3})
	})

	cm := rec.waitMessage(t)
	if !cm.Resynchronize || cm.SyncID != 0 {
		t.Errorf("message = %+v, want resynchronize at sync id 0", cm)
	}

	// One request until the resynchronizing message arrives.
	c.Post(func() {
		c.receive(&protocol.ServerMessage{
			SyncID:        4,
			Resynchronize: true,
			Types:         map[string]string{"0": "test.Counter"},
		})
	})
	err := c.Do(context.Background(), func(m *Mirror) error {
		if m.LastSyncID() != 4 {
			t.Errorf("LastSyncID() = %d, want 4", m.LastSyncID())
		}
		if c.resyncRequested {
			t.Error("resync still marked as requested")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.messages) != 0 {
		t.Errorf("extra messages sent: %+v", rec.messages)
	}
}

func TestClientReconnects(t *testing.T) {
	rec, ts := newFrameRecorder(t)
	dialRecorder(t, ts, &Config{
		ReconnectInitialInterval: 5 * time.Millisecond,
		ReconnectMaxInterval:     20 * time.Millisecond,
	})

	first := <-rec.conns
	first.Close()

	select {
	case <-rec.conns:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not reconnect")
	}
	if got := rec.accepted.Load(); got != 2 {
		t.Errorf("accepted %d connections, want 2", got)
	}
}

func TestClientStopsWhenSessionExpires(t *testing.T) {
	rec, ts := newFrameRecorder(t)
	c := dialRecorder(t, ts, &Config{
		ReconnectInitialInterval: 5 * time.Millisecond,
		ReconnectMaxInterval:     20 * time.Millisecond,
	})

	rec.reject.Store(true)
	first := <-rec.conns
	first.Close()

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
	if !errors.Is(c.Err(), ErrSessionExpired) {
		t.Errorf("Err() = %v, want ErrSessionExpired", c.Err())
	}
}

func TestClientPreloadsReservedBundles(t *testing.T) {
	src := bundle.SourceFunc(func(context.Context, string) ([]byte, error) {
		return []byte(`{"types":{}}`), nil
	})
	c, err := New(&Config{BaseURL: "http://127.0.0.1:0"},
		WithLogger(quietLogger),
		WithBundles(src,
			bundle.Bundle{Name: bundle.EagerBundle, Identifiers: []string{"test.Root"}},
			bundle.Bundle{Name: bundle.DeferredBundle, Identifiers: []string{"test.Tooltip"}},
		))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.preload(bundle.EagerBundle)
	pump(t, c)
	if !c.loader.IsBundleLoaded(bundle.EagerBundle) {
		t.Fatal("eager bundle not loaded")
	}
	if got := c.loader.State(bundle.DeferredBundle); got != bundle.NotStarted {
		t.Fatalf("deferred bundle state = %s before the first message", got)
	}

	c.receive(&protocol.ServerMessage{SyncID: 0, Types: map[string]string{"0": "test.Counter"}})
	if got := c.loader.State(bundle.DeferredBundle); got != bundle.Loading {
		t.Fatalf("deferred bundle state = %s after the first message, want LOADING", got)
	}
	pump(t, c)
	if !c.loader.IsBundleLoaded(bundle.DeferredBundle) {
		t.Error("deferred bundle not loaded")
	}
}
