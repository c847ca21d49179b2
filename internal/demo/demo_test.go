package demo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/vango-dev/syncore/pkg/bundle"
	"github.com/vango-dev/syncore/pkg/client"
	"github.com/vango-dev/syncore/pkg/protocol"
	"github.com/vango-dev/syncore/pkg/session"
)

func newManager(t *testing.T, mode session.PushMode) *session.Manager {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.PushMode = mode
	cfg.HeartbeatTimeout = 0
	m := session.NewManager(cfg,
		session.WithInit(Init),
		session.WithServerRPC(ServerRPC(nil)),
	)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func request(t *testing.T, s *session.Session, syncID int, rpc ...protocol.Invocation) *protocol.ServerMessage {
	t.Helper()
	out, err := s.HandleRequest(&protocol.ClientMessage{SyncID: syncID, RPC: rpc})
	if err != nil {
		t.Fatalf("HandleRequest error = %v", err)
	}
	obj, err := protocol.UnwrapPush(out)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := protocol.DecodeServerMessage(obj)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func field[T any](t *testing.T, msg *protocol.ServerMessage, id, name string) T {
	t.Helper()
	raw, ok := msg.State[id][name]
	if !ok {
		t.Fatalf("connector %s has no %q in %v", id, name, msg.State)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestInitialState(t *testing.T) {
	s, err := newManager(t, session.PushAutomatic).Create()
	if err != nil {
		t.Fatal(err)
	}
	msg := request(t, s, -1)

	want := map[string]string{"0": TypeRoot, "1": TypeButton, "2": TypeLabel, "3": TypeLabel}
	if diff := cmp.Diff(want, msg.Types); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1", "2", "3"}, msg.Hierarchy["0"]); diff != "" {
		t.Errorf("hierarchy mismatch (-want +got):\n%s", diff)
	}
	if got := field[string](t, msg, "0", "button"); got != "1" {
		t.Errorf("root.button = %q, want 1", got)
	}
	if got := field[string](t, msg, "2", "text"); got != "Not clicked yet" {
		t.Errorf("label text = %q", got)
	}
}

func TestClick(t *testing.T) {
	s, err := newManager(t, session.PushAutomatic).Create()
	if err != nil {
		t.Fatal(err)
	}
	first := request(t, s, -1)

	inv, err := protocol.NewInvocation("1", ButtonServerRPC.Name(), "click")
	if err != nil {
		t.Fatal(err)
	}
	msg := request(t, s, first.SyncID, inv, inv)

	if got := field[string](t, msg, "2", "text"); got != "Clicked 2 times" {
		t.Errorf("label text = %q, want Clicked 2 times", got)
	}
	// highlight is last-only, so only the second call survives.
	if len(msg.RPC) != 1 {
		t.Fatalf("rpc = %v, want one highlight", msg.RPC)
	}
	call := msg.RPC[0]
	if call.ConnectorID != "2" || call.Interface != LabelClientRPC.Name() || call.Method != "highlight" {
		t.Errorf("rpc = %+v", call)
	}
	if diff := cmp.Diff(`2`, string(call.Args[0])); diff != "" {
		t.Errorf("highlight arg mismatch (-want +got):\n%s", diff)
	}

	err = s.Access(func(ui *session.UI) error {
		root, ok := App(ui)
		if !ok {
			t.Fatal("no demo root on session")
		}
		if root.Button.Clicks() != 2 {
			t.Errorf("Clicks() = %d, want 2", root.Button.Clicks())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestClickDisabledButton(t *testing.T) {
	s, err := newManager(t, session.PushAutomatic).Create()
	if err != nil {
		t.Fatal(err)
	}
	first := request(t, s, -1)
	err = s.Access(func(ui *session.UI) error {
		root, _ := App(ui)
		root.Button.State.Enabled = false
		ui.MarkDirty(root.Button)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	inv, _ := protocol.NewInvocation("1", ButtonServerRPC.Name(), "click")
	msg := request(t, s, first.SyncID, inv)
	if _, ok := msg.State["2"]; ok {
		t.Errorf("disabled button changed the label: %v", msg.State["2"])
	}
	if len(msg.RPC) != 0 {
		t.Errorf("rpc = %v, want none", msg.RPC)
	}
}

func TestClockTick(t *testing.T) {
	tests := []struct {
		name string
		mode session.PushMode
	}{
		{"automatic", session.PushAutomatic},
		{"manual", session.PushManual},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, tt.mode)
			s, err := m.Create()
			if err != nil {
				t.Fatal(err)
			}
			first := request(t, s, -1)

			k := NewClock(m, time.Second)
			now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
			if n := k.Tick(now); n != 1 {
				t.Errorf("Tick() = %d, want 1", n)
			}

			msg := request(t, s, first.SyncID)
			if got := field[string](t, msg, "3", "text"); got != "15:04:05" {
				t.Errorf("clock text = %q, want 15:04:05", got)
			}
		})
	}
}

func TestClockSkipsClosedSessions(t *testing.T) {
	m := newManager(t, session.PushAutomatic)
	s, err := m.Create()
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	if n := NewClock(m, time.Second).Tick(time.Now()); n != 0 {
		t.Errorf("Tick() = %d, want 0", n)
	}
}

func TestClockRun(t *testing.T) {
	m := newManager(t, session.PushAutomatic)
	s, err := m.Create()
	if err != nil {
		t.Fatal(err)
	}
	fake := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC))
	k := NewClock(m, time.Second, WithClockSource(fake))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	fake.BlockUntil(1)
	fake.Advance(time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		var text string
		_ = s.Access(func(ui *session.UI) error {
			root, _ := App(ui)
			text = root.Clock.State.Text
			return nil
		})
		if text == "08:00:01" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("clock text = %q, want 08:00:01", text)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run error = %v", err)
	}
}

func TestBundleSource(t *testing.T) {
	src := BundleSource()
	for _, b := range Bundles() {
		data, err := src.Fetch(context.Background(), b.Name)
		if err != nil {
			t.Fatalf("Fetch(%s) error = %v", b.Name, err)
		}
		p, err := bundle.DecodePayload(data)
		if err != nil {
			t.Fatal(err)
		}
		for _, id := range b.Identifiers {
			if _, ok := p.Types[id]; !ok {
				t.Errorf("bundle %s does not describe %s", b.Name, id)
			}
		}
	}
	if _, err := src.Fetch(context.Background(), "missing"); !errors.Is(err, bundle.ErrNotFound) {
		t.Errorf("Fetch(missing) error = %v, want ErrNotFound", err)
	}
}

func TestClientRPC(t *testing.T) {
	var got int
	d := ClientRPC(nil, func(_ *client.Connector, clicks int) { got = clicks })

	inv, _ := protocol.NewInvocation("2", LabelClientRPC.Name(), "highlight", 3)
	label := &client.Connector{}
	err := d.Dispatch(inv, func(string) (any, bool) { return label, true })
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Errorf("highlight clicks = %d, want 3", got)
	}
}
