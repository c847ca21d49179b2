package session

import (
	"github.com/vango-dev/syncore/pkg/connector"
	"github.com/vango-dev/syncore/pkg/rpc"
)

// UI is the locked view of a session handed to Access callbacks, RPC
// handlers and the init function. It must not be retained past the call.
type UI struct {
	s *Session
}

// SessionID returns the id of the owning session.
func (u *UI) SessionID() string {
	return u.s.id
}

// Registry returns the connector registry.
func (u *UI) Registry() *connector.Registry {
	return u.s.registry
}

// Register registers a root-level connector.
func (u *UI) Register(c connector.Connector) string {
	return u.s.registry.Register(c)
}

// Attach adds child under parent, registering it when needed.
func (u *UI) Attach(parent, child connector.Connector) string {
	return u.s.registry.Attach(parent, child)
}

// Detach unregisters c and its children.
func (u *UI) Detach(c connector.Connector) bool {
	return u.s.registry.Unregister(c.ConnectorID())
}

// MarkDirty flags c so its changed shared state is sent.
func (u *UI) MarkDirty(c connector.Connector) {
	u.s.registry.MarkDirty(c)
}

// ClientRPC returns the queue of client RPC invocations.
func (u *UI) ClientRPC() *rpc.Queue {
	return u.s.clientRPC
}

// ClientProxy returns a proxy for calling iface on the client half of c.
func (u *UI) ClientProxy(iface *rpc.Interface, c connector.Connector) *rpc.Proxy {
	p := rpc.NewProxy(iface)
	p.Init(c.ConnectorID(), u.s.clientRPC)
	return p
}

// Push sends the pending changes now, or records them as owed while no
// transport is attached.
func (u *UI) Push() error {
	if u.s.mode == PushDisabled {
		return ErrPushDisabled
	}
	return wrap(u.s.id, "push", u.s.push.Push(true))
}

// Resynchronize makes the next message carry the full state.
func (u *UI) Resynchronize() {
	u.s.writer.RequestResync()
}

// Set stores application data on the session.
func (u *UI) Set(key string, value any) {
	u.s.data[key] = value
}

// Get returns application data stored with Set.
func (u *UI) Get(key string) any {
	return u.s.data[key]
}
