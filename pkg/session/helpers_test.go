package session

import (
	"encoding/json"
	"testing"

	"github.com/vango-dev/syncore/pkg/connector"
	"github.com/vango-dev/syncore/pkg/protocol"
	"github.com/vango-dev/syncore/pkg/push"
	"github.com/vango-dev/syncore/pkg/rpc"
)

type counterState struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

type counter struct {
	connector.Base
	state counterState
	ui    *UI
}

func (c *counter) TypeIdentifier() string { return "test.Counter" }
func (c *counter) SharedState() any       { return &c.state }

var counterRPC = rpc.NewInterface("test.CounterServerRpc",
	rpc.Method{Name: "increment"},
)

var counterClientRPC = rpc.NewInterface("test.CounterClientRpc",
	rpc.Method{Name: "flash", Delayed: true},
)

func newCounterDispatcher() *rpc.Dispatcher {
	d := rpc.NewDispatcher(nil)
	d.Register(counterRPC, "increment", rpc.Method1(func(c *counter, by int) error {
		c.state.Value += by
		c.ui.MarkDirty(c)
		return nil
	}))
	return d
}

func counterInit(ui *UI) error {
	c := &counter{ui: ui}
	ui.Register(c)
	ui.Set("counter", c)
	return nil
}

type fakeResource struct {
	sent    [][]byte
	resumed int
}

func (r *fakeResource) Broadcast(msg []byte) error {
	r.sent = append(r.sent, msg)
	return nil
}
func (r *fakeResource) Resume()                   { r.resumed++ }
func (r *fakeResource) Transport() push.Transport { return push.TransportWebSocket }

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

func invocation(t *testing.T, connectorID, method string, args ...any) protocol.Invocation {
	t.Helper()
	inv, err := protocol.NewInvocation(connectorID, counterRPC.Name(), method, args...)
	if err != nil {
		t.Fatal(err)
	}
	return inv
}

func rawInt(t *testing.T, raw json.RawMessage) int {
	t.Helper()
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", raw, err)
	}
	return v
}
