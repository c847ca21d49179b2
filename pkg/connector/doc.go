// Package connector provides connector identity and the shared state model.
//
// A connector is one half of a paired server/client object. The server half
// embeds Base, exposes its shared state record and names its implementation
// type:
//
//	type Label struct {
//	    connector.Base
//	    state LabelState
//	}
//
//	func (l *Label) TypeIdentifier() string { return "demo.Label" }
//	func (l *Label) SharedState() any       { return &l.state }
//
// The Registry assigns ids from a per-session counter. The first connector
// registered (the UI root) gets "0". Ids are never reused while the registry
// lives, so a late message addressed to a detached connector can never reach
// a newer one.
//
// The Tracker remembers the last encoding of every shared state field that
// was sent and produces deltas containing only the fields that changed. A
// field that stops encoding, such as an omitempty zero value, is sent as null.
// ApplyDelta performs the inverse on the receiving side. Together they obey
// the round-trip law: applying every delta in order to a zero value yields a
// state equal to the source.
package connector
