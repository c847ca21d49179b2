package client

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/vango-dev/syncore/pkg/connector"
	"github.com/vango-dev/syncore/pkg/protocol"
)

// Connector is the client-side mirror of a server connector.
type Connector struct {
	id       string
	typ      string
	parent   string
	children []string
	state    protocol.StateDelta
}

// ID returns the connector id.
func (c *Connector) ID() string { return c.id }

// Type returns the type identifier.
func (c *Connector) Type() string { return c.typ }

// Parent returns the parent id, or "" for a root.
func (c *Connector) Parent() string { return c.parent }

// Children returns the child ids in server order.
func (c *Connector) Children() []string { return slices.Clone(c.children) }

// Field returns the encoded value of one shared state field.
func (c *Connector) Field(name string) (json.RawMessage, bool) {
	v, ok := c.state[name]
	return v, ok
}

// DecodeState decodes the shared state received so far into v, which must
// be a pointer to a struct or map.
func (c *Connector) DecodeState(v any) error {
	return connector.ApplyDelta(v, c.state)
}

// Mirror is the client's copy of the server's connector graph. It is not
// safe for concurrent use.
type Mirror struct {
	connectors map[string]*Connector
	lastSyncID int
}

// NewMirror returns an empty mirror that has not applied any message.
func NewMirror() *Mirror {
	return &Mirror{
		connectors: make(map[string]*Connector),
		lastSyncID: -1,
	}
}

// LastSyncID returns the sync id of the last applied message, -1 before
// the first.
func (m *Mirror) LastSyncID() int {
	return m.lastSyncID
}

// Get returns the connector with the given id.
func (m *Mirror) Get(id string) (*Connector, bool) {
	c, ok := m.connectors[id]
	return c, ok
}

// Len returns the number of mirrored connectors.
func (m *Mirror) Len() int {
	return len(m.connectors)
}

// IDs returns all connector ids in registration order.
func (m *Mirror) IDs() []string {
	ids := slices.Collect(maps.Keys(m.connectors))
	slices.SortFunc(ids, compareIDs)
	return ids
}

// resolve adapts the mirror for rpc.Dispatcher.
func (m *Mirror) resolve(id string) (any, bool) {
	c, ok := m.connectors[id]
	return c, ok
}

// Apply applies a server message: types, state, hierarchy, then
// unregistrations. A resynchronizing message replaces the whole mirror.
// It returns the ids of connectors whose type or state changed.
//
// A message referring to a connector the mirror does not know is
// inconsistent; Apply stops at the first such reference and the caller
// should request resynchronization.
func (m *Mirror) Apply(msg *protocol.ServerMessage) ([]string, error) {
	if msg.Resynchronize {
		clear(m.connectors)
	}
	changed := make(map[string]struct{})

	for id, typ := range msg.Types {
		c, ok := m.connectors[id]
		if !ok {
			c = &Connector{id: id, state: make(protocol.StateDelta)}
			m.connectors[id] = c
		}
		c.typ = typ
		changed[id] = struct{}{}
	}

	for id, delta := range msg.State {
		c, ok := m.connectors[id]
		if !ok {
			return nil, fmt.Errorf("%w: state for %s", ErrUnknownConnector, id)
		}
		maps.Copy(c.state, delta)
		changed[id] = struct{}{}
	}

	for _, id := range slices.Sorted(maps.Keys(msg.Hierarchy)) {
		parent, ok := m.connectors[id]
		if !ok {
			return nil, fmt.Errorf("%w: hierarchy of %s", ErrUnknownConnector, id)
		}
		for _, old := range parent.children {
			if c, ok := m.connectors[old]; ok && c.parent == id {
				c.parent = ""
			}
		}
		children := msg.Hierarchy[id]
		for _, childID := range children {
			child, ok := m.connectors[childID]
			if !ok {
				return nil, fmt.Errorf("%w: child %s of %s", ErrUnknownConnector, childID, id)
			}
			child.parent = id
		}
		parent.children = slices.Clone(children)
	}

	for _, id := range msg.Unregistered {
		c, ok := m.connectors[id]
		if !ok {
			continue
		}
		if p, ok := m.connectors[c.parent]; ok {
			p.children = slices.DeleteFunc(p.children, func(s string) bool { return s == id })
		}
		delete(m.connectors, id)
		delete(changed, id)
	}

	m.lastSyncID = msg.SyncID

	ids := slices.Collect(maps.Keys(changed))
	slices.SortFunc(ids, compareIDs)
	return ids, nil
}

// compareIDs orders numeric ids numerically and everything else after
// them lexically.
func compareIDs(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na - nb
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
