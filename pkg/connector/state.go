package connector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/vango-dev/syncore/pkg/protocol"
)

// Ref references another connector from shared state. It encodes as the
// referenced connector's id; the zero Ref encodes as null.
type Ref string

// RefTo returns a reference to c, or the zero Ref when c is nil.
func RefTo(c Connector) Ref {
	if c == nil {
		return ""
	}
	return Ref(c.ConnectorID())
}

// MarshalJSON implements json.Marshaler.
func (r Ref) MarshalJSON() ([]byte, error) {
	if r == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ref) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("connector: ref must be a string id: %w", err)
	}
	*r = Ref(s)
	return nil
}

// Resolve looks the referenced connector up in reg.
func (r Ref) Resolve(reg *Registry) (Connector, bool) {
	if r == "" {
		return nil, false
	}
	return reg.Get(string(r))
}

// EncodeState encodes a shared state record as a map of field name to
// encoded value. The record must encode as a JSON object.
func EncodeState(state any) (protocol.StateDelta, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("connector: encoding state: %w", err)
	}
	var fields protocol.StateDelta
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("connector: state does not encode as an object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("connector: state encodes as null")
	}
	return fields, nil
}

// ApplyDelta overlays delta on the state record pointed to by state.
// Fields missing from delta keep their value; fields present are replaced
// as a whole, including maps and slices.
func ApplyDelta(state any, delta protocol.StateDelta) error {
	if len(delta) == 0 {
		return nil
	}
	rv := reflect.ValueOf(state)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("connector: ApplyDelta needs a non-nil pointer, got %T", state)
	}

	fields, err := EncodeState(state)
	if err != nil {
		return err
	}
	for name, value := range delta {
		fields[name] = value
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("connector: merging delta: %w", err)
	}

	// Decode into a fresh value so replaced maps do not keep stale keys.
	fresh := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal(merged, fresh.Interface()); err != nil {
		return fmt.Errorf("connector: applying delta: %w", err)
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}

// Tracker remembers what the other side has seen of each connector's shared
// state and computes deltas.
type Tracker struct {
	sent     map[string]protocol.StateDelta
	versions map[string]uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sent:     make(map[string]protocol.StateDelta),
		versions: make(map[string]uint64),
	}
}

// Diff encodes state and returns the fields whose encoding differs from the
// last Diff for id. Fields that were sent before and no longer encode are
// returned as null. The first Diff for an id returns every field. The
// connector's version increases when the delta is non-empty.
func (t *Tracker) Diff(id string, state any) (protocol.StateDelta, error) {
	current, err := EncodeState(state)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", id, err)
	}

	previous, seen := t.sent[id]
	delta := make(protocol.StateDelta)
	for name, value := range current {
		if old, ok := previous[name]; seen && ok && bytes.Equal(old, value) {
			continue
		}
		delta[name] = value
	}
	// A field that no longer encodes (omitempty, nil pointer) is cleared
	// on the other side.
	for name := range previous {
		if _, ok := current[name]; !ok {
			delta[name] = json.RawMessage("null")
		}
	}
	t.sent[id] = current

	if len(delta) > 0 {
		t.versions[id]++
	}
	return delta, nil
}

// Version returns how many non-empty deltas were produced for id.
func (t *Tracker) Version(id string) uint64 {
	return t.versions[id]
}

// Forget drops everything known about id.
func (t *Tracker) Forget(id string) {
	delete(t.sent, id)
	delete(t.versions, id)
}

// Reset drops everything, so the next Diff of every connector is complete.
func (t *Tracker) Reset() {
	clear(t.sent)
}
