package connector

import (
	"log/slog"
	"slices"
	"strconv"

	"github.com/vango-dev/syncore/internal/errors"
)

// Connector is the server half of a paired object.
type Connector interface {
	// ConnectorID returns the id assigned at registration, or "" when the
	// connector is not registered.
	ConnectorID() string

	// TypeIdentifier names the implementation type the client instantiates.
	TypeIdentifier() string

	// SharedState returns a pointer to the connector's shared state record.
	SharedState() any

	base() *Base
}

// Base carries the registry-managed identity of a connector. Embed it in
// connector implementations.
type Base struct {
	id string
}

// ConnectorID returns the id assigned at registration.
func (b *Base) ConnectorID() string {
	return b.id
}

func (b *Base) base() *Base {
	return b
}

// Registry is the connector identity map of one session.
// It is not safe for concurrent use; the owning session serializes access.
type Registry struct {
	nextID       int
	connectors   map[string]Connector
	parents      map[string]string
	children     map[string][]string
	dirty        map[string]struct{}
	hierarchy    map[string]struct{}
	clientKnown  map[string]struct{}
	unregistered []string
	logger       *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		connectors:  make(map[string]Connector),
		parents:     make(map[string]string),
		children:    make(map[string][]string),
		dirty:       make(map[string]struct{}),
		hierarchy:   make(map[string]struct{}),
		clientKnown: make(map[string]struct{}),
		logger:      logger.With("component", "connector_registry"),
	}
}

// Register assigns a fresh id to c and marks it dirty so its full state is
// sent. Registering an attached connector panics.
func (r *Registry) Register(c Connector) string {
	b := c.base()
	if b.id != "" {
		if _, ok := r.connectors[b.id]; ok {
			errors.Panicf("S207", "connector %s (%s) is already registered", b.id, c.TypeIdentifier())
		}
	}

	id := strconv.Itoa(r.nextID)
	r.nextID++
	b.id = id
	r.connectors[id] = c
	r.dirty[id] = struct{}{}

	r.logger.Debug("connector registered", "connector_id", id, "type", c.TypeIdentifier())
	return id
}

// Attach registers child (when needed) and adds it under parent.
func (r *Registry) Attach(parent, child Connector) string {
	pid := parent.ConnectorID()
	if _, ok := r.connectors[pid]; !ok {
		errors.Panicf("S207", "parent %q of %s is not registered", pid, child.TypeIdentifier())
	}
	cid := child.ConnectorID()
	if _, ok := r.connectors[cid]; !ok || cid == "" {
		cid = r.Register(child)
	}
	if old, ok := r.parents[cid]; ok {
		r.removeChild(old, cid)
	}
	r.parents[cid] = pid
	r.children[pid] = append(r.children[pid], cid)
	r.hierarchy[pid] = struct{}{}
	return cid
}

// Unregister releases the connector with the given id and, recursively, its
// children. Released ids are reported by TakeUnregistered. It reports whether
// the id was registered.
func (r *Registry) Unregister(id string) bool {
	c, ok := r.connectors[id]
	if !ok {
		return false
	}

	for _, child := range slices.Clone(r.children[id]) {
		r.Unregister(child)
	}
	if parent, ok := r.parents[id]; ok {
		r.removeChild(parent, id)
		delete(r.parents, id)
	}

	delete(r.connectors, id)
	delete(r.children, id)
	delete(r.dirty, id)
	delete(r.hierarchy, id)
	if _, known := r.clientKnown[id]; known {
		delete(r.clientKnown, id)
		r.unregistered = append(r.unregistered, id)
	}
	c.base().id = ""

	r.logger.Debug("connector unregistered", "connector_id", id)
	return true
}

func (r *Registry) removeChild(parent, child string) {
	r.children[parent] = slices.DeleteFunc(r.children[parent], func(id string) bool { return id == child })
	if _, ok := r.connectors[parent]; ok {
		r.hierarchy[parent] = struct{}{}
	}
}

// Get returns the connector registered under id.
func (r *Registry) Get(id string) (Connector, bool) {
	c, ok := r.connectors[id]
	return c, ok
}

// Len returns the number of registered connectors.
func (r *Registry) Len() int {
	return len(r.connectors)
}

// Children returns the ids of the children of id in attach order.
func (r *Registry) Children(id string) []string {
	return slices.Clone(r.children[id])
}

// Parent returns the parent id of id.
func (r *Registry) Parent(id string) (string, bool) {
	p, ok := r.parents[id]
	return p, ok
}

// MarkDirty flags c so its changed state is included in the next message.
// Unregistered connectors are ignored.
func (r *Registry) MarkDirty(c Connector) {
	id := c.ConnectorID()
	if _, ok := r.connectors[id]; ok {
		r.dirty[id] = struct{}{}
	}
}

// MarkAllDirty flags every connector, used for a full resynchronization.
func (r *Registry) MarkAllDirty() {
	for id := range r.connectors {
		r.dirty[id] = struct{}{}
	}
	for id := range r.children {
		r.hierarchy[id] = struct{}{}
	}
}

// HasChanges reports whether anything would be written to the client.
func (r *Registry) HasChanges() bool {
	return len(r.dirty) > 0 || len(r.hierarchy) > 0 || len(r.unregistered) > 0
}

// TakeDirty returns the dirty connectors in id order and clears the set.
func (r *Registry) TakeDirty() []Connector {
	ids := sortedIDs(r.dirty)
	out := make([]Connector, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.connectors[id])
	}
	clear(r.dirty)
	return out
}

// TakeHierarchyChanges returns the children of every connector whose child
// list changed and clears the set.
func (r *Registry) TakeHierarchyChanges() map[string][]string {
	if len(r.hierarchy) == 0 {
		return nil
	}
	out := make(map[string][]string, len(r.hierarchy))
	for id := range r.hierarchy {
		children := r.children[id]
		if children == nil {
			children = []string{}
		}
		out[id] = slices.Clone(children)
	}
	clear(r.hierarchy)
	return out
}

// TakeUnregistered returns the ids released since the last call.
func (r *Registry) TakeUnregistered() []string {
	out := r.unregistered
	r.unregistered = nil
	return out
}

// MarkClientKnown records that the client has been told the type of id.
// It reports whether this is the first time.
func (r *Registry) MarkClientKnown(id string) bool {
	if _, ok := r.clientKnown[id]; ok {
		return false
	}
	r.clientKnown[id] = struct{}{}
	return true
}

// ForgetClient clears client knowledge, used before a full resync.
func (r *Registry) ForgetClient() {
	clear(r.clientKnown)
	r.unregistered = nil
}

// All returns every registered connector in id order.
func (r *Registry) All() []Connector {
	ids := make([]string, 0, len(r.connectors))
	for id := range r.connectors {
		ids = append(ids, id)
	}
	sortIDs(ids)
	out := make([]Connector, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.connectors[id])
	}
	return out
}

func sortedIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// sortIDs orders numeric ids numerically.
func sortIDs(ids []string) {
	slices.SortFunc(ids, func(a, b string) int {
		if len(a) != len(b) {
			return len(a) - len(b)
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
}
