package protocol

import (
	"encoding/json"
	"fmt"
)

// Invocation is a method invocation record: one call of an RPC interface
// method on a connector, delivered to and replayed by the other side.
type Invocation struct {
	ConnectorID string            `json:"connectorId"`
	Interface   string            `json:"interfaceName"`
	Method      string            `json:"methodName"`
	Args        []json.RawMessage `json:"args"`
	Delayed     bool              `json:"delayed,omitempty"`
	LastOnly    bool              `json:"lastOnly,omitempty"`
}

// NewInvocation creates an invocation record. Arguments are encoded
// immediately so that later changes to the caller's values are not observed
// when delivery is deferred.
func NewInvocation(connectorID, iface, method string, args ...any) (Invocation, error) {
	encoded := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return Invocation{}, fmt.Errorf("protocol: encoding argument %d of %s.%s: %w", i, iface, method, err)
		}
		encoded = append(encoded, data)
	}
	return Invocation{
		ConnectorID: connectorID,
		Interface:   iface,
		Method:      method,
		Args:        encoded,
	}, nil
}

// LastOnlyTag identifies invocations that replace each other when sent with
// the last-only qualifier.
func (inv Invocation) LastOnlyTag() string {
	return inv.ConnectorID + "-" + inv.Interface + "-" + inv.Method
}

// String returns a short description for logs.
func (inv Invocation) String() string {
	return fmt.Sprintf("%s.%s@%s(%d args)", inv.Interface, inv.Method, inv.ConnectorID, len(inv.Args))
}
