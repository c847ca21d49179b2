package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-dev/syncore/pkg/connector"
	"github.com/vango-dev/syncore/pkg/protocol"
	"github.com/vango-dev/syncore/pkg/rpc"
	"github.com/vango-dev/syncore/pkg/session"
)

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

var counterRPC = rpc.NewInterface("test.CounterServerRpc",
	rpc.Method{Name: "increment"},
)

func newTestManager(t *testing.T, cfg *session.Config) *session.Manager {
	t.Helper()
	if cfg == nil {
		cfg = session.DefaultConfig()
	}
	d := rpc.NewDispatcher(nil)
	d.Register(counterRPC, "increment", rpc.Method1(func(c *counter, by int) error {
		c.state.Value += by
		c.ui.MarkDirty(c)
		return nil
	}))
	m := session.NewManager(cfg,
		session.WithServerRPC(d),
		session.WithInit(func(ui *session.UI) error {
			c := &counter{ui: ui}
			ui.Register(c)
			ui.Set("counter", c)
			return nil
		}))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func newTestServer(t *testing.T, cfg *ServerConfig, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(newTestManager(t, nil), cfg, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func createSession(t *testing.T, ts *httptest.Server) (string, *protocol.ServerMessage) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/session", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /session status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var body createResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body.SessionID, decodeEnvelope(t, []byte(body.Message))
}

func postRPC(t *testing.T, ts *httptest.Server, id string, cm *protocol.ClientMessage) (int, []byte) {
	t.Helper()
	data, err := protocol.EncodeClientMessage(cm)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+"/rpc/"+id, "application/json", strings.NewReader(string(data)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, out
}

func decodeEnvelope(t *testing.T, msg []byte) *protocol.ServerMessage {
	t.Helper()
	obj, err := protocol.UnwrapPush(msg)
	if err != nil {
		t.Fatalf("UnwrapPush(%q) error = %v", msg, err)
	}
	m, err := protocol.DecodeServerMessage(obj)
	if err != nil {
		t.Fatalf("DecodeServerMessage error = %v", err)
	}
	return m
}

func increment(t *testing.T, connectorID string, by int) protocol.Invocation {
	t.Helper()
	inv, err := protocol.NewInvocation(connectorID, counterRPC.Name(), "increment", by)
	if err != nil {
		t.Fatal(err)
	}
	return inv
}

func counterValue(t *testing.T, m *protocol.ServerMessage, id string) int {
	t.Helper()
	raw, ok := m.State[id]["value"]
	if !ok {
		t.Fatalf("message %+v has no value for connector %s", m, id)
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatal(err)
	}
	return v
}

// setCounter changes the counter of session id from the server side.
func setCounter(t *testing.T, srv *Server, id string, value int) {
	t.Helper()
	sess, err := srv.Sessions().Get(id)
	if err != nil {
		t.Fatal(err)
	}
	err = sess.Access(func(ui *session.UI) error {
		c := ui.Get("counter").(*counter)
		c.state.Value = value
		ui.MarkDirty(c)
		return nil
	})
	if err != nil {
		t.Fatalf("Access error = %v", err)
	}
}
