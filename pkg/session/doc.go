// Package session ties the sync core together for one client.
//
// A Session owns a connector registry, a state tracker, the queue of client
// RPC invocations and the push connection. All of them are guarded by the
// session lock; application code reaches them only through a *UI handed out
// by Session.Access, which holds the lock for the duration of the call:
//
//	err := s.Access(func(ui *session.UI) error {
//	    label.state.Text = "tick"
//	    ui.MarkDirty(label)
//	    return nil
//	})
//
// In automatic push mode Access pushes the changes when fn returns. In
// manual mode fn calls ui.Push itself.
//
// The Writer composes server → client messages from the dirty connectors
// and is the push connection's MessageWriter. The Manager creates sessions
// and closes those whose heartbeat expired.
package session
