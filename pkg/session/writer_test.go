package session

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vango-dev/syncore/pkg/connector"
	"github.com/vango-dev/syncore/pkg/protocol"
	"github.com/vango-dev/syncore/pkg/rpc"
)

type writerFixture struct {
	reg    *connector.Registry
	queue  *rpc.Queue
	writer *Writer
}

func newWriterFixture() *writerFixture {
	reg := connector.NewRegistry(nil)
	queue := rpc.NewQueue(nil)
	return &writerFixture{
		reg:    reg,
		queue:  queue,
		writer: NewWriter(reg, connector.NewTracker(), queue),
	}
}

func (f *writerFixture) write(t *testing.T, async bool) *protocol.ServerMessage {
	t.Helper()
	var buf bytes.Buffer
	if err := f.writer.WriteMessage(&buf, async); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	return decodeEnvelope(t, protocol.WrapPush(buf.Bytes()))
}

func TestWriterSequence(t *testing.T) {
	f := newWriterFixture()
	root := &counter{}
	child := &counter{}
	f.reg.Register(root)
	f.reg.Attach(root, child)

	if f.writer.LastSyncID() != -1 {
		t.Errorf("LastSyncID() = %d before any message", f.writer.LastSyncID())
	}

	m := f.write(t, false)
	if diff := cmp.Diff(map[string]string{"0": "test.Counter", "1": "test.Counter"}, m.Types); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string][]string{"0": {"1"}}, m.Hierarchy); diff != "" {
		t.Errorf("hierarchy mismatch (-want +got):\n%s", diff)
	}
	if len(m.State) != 2 {
		t.Errorf("state has %d connectors, want 2", len(m.State))
	}

	// Second message: one field of the child changed, plus a client call.
	child.state.Value = 4
	f.reg.MarkDirty(child)
	p := rpc.NewProxy(counterClientRPC)
	p.Init(child.ConnectorID(), f.queue)
	if err := p.Call("flash", "red"); err != nil {
		t.Fatal(err)
	}

	m = f.write(t, true)
	if m.SyncID != 1 || !m.Async {
		t.Errorf("syncId = %d, async = %t", m.SyncID, m.Async)
	}
	if len(m.Types) != 0 || len(m.Hierarchy) != 0 {
		t.Errorf("types/hierarchy resent: %v %v", m.Types, m.Hierarchy)
	}
	if diff := cmp.Diff(map[string]protocol.StateDelta{"1": {"value": []byte("4")}}, m.State); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	if len(m.RPC) != 1 || m.RPC[0].Method != "flash" || !m.RPC[0].Delayed {
		t.Errorf("rpc = %+v", m.RPC)
	}

	// Third message: child removed.
	f.reg.Unregister(child.ConnectorID())
	m = f.write(t, true)
	if diff := cmp.Diff([]string{"1"}, m.Unregistered); diff != "" {
		t.Errorf("unregistered mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string][]string{"0": {}}, m.Hierarchy); diff != "" {
		t.Errorf("hierarchy mismatch (-want +got):\n%s", diff)
	}
	if f.writer.LastSyncID() != 2 {
		t.Errorf("LastSyncID() = %d, want 2", f.writer.LastSyncID())
	}
}

type unencodable struct {
	connector.Base
}

func (u *unencodable) TypeIdentifier() string { return "test.Broken" }
func (u *unencodable) SharedState() any       { return make(chan int) }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestWriterFailureForcesResync(t *testing.T) {
	f := newWriterFixture()
	root := &counter{}
	f.reg.Register(root)

	if err := f.writer.WriteMessage(failingWriter{}, false); err == nil {
		t.Fatal("WriteMessage() to failing writer error = nil")
	}
	if f.writer.LastSyncID() != -1 {
		t.Error("sync id advanced after a failed write")
	}

	m := f.write(t, false)
	if !m.Resynchronize || m.Types["0"] != "test.Counter" || len(m.State["0"]) != 2 {
		t.Errorf("message after failure = %+v, want full resync", m)
	}

	broken := &unencodable{}
	f.reg.Register(broken)
	var buf bytes.Buffer
	if err := f.writer.WriteMessage(&buf, false); err == nil {
		t.Error("WriteMessage() with unencodable state error = nil")
	}
}
