package rpc

import (
	"sort"

	"github.com/vango-dev/syncore/internal/errors"
)

// Method declares one method of an RPC interface.
type Method struct {
	Name string

	// Delayed calls wait for the next natural flush instead of triggering
	// a round trip.
	Delayed bool

	// LastOnly calls replace a pending LastOnly call of the same method on
	// the same connector.
	LastOnly bool
}

// Interface is a named set of RPC methods.
type Interface struct {
	name    string
	methods map[string]Method
}

// NewInterface declares an RPC interface. Duplicate method names panic.
func NewInterface(name string, methods ...Method) *Interface {
	iface := &Interface{
		name:    name,
		methods: make(map[string]Method, len(methods)),
	}
	for _, m := range methods {
		if _, dup := iface.methods[m.Name]; dup {
			errors.Panicf("S208", "method %s declared twice on %s", m.Name, name)
		}
		iface.methods[m.Name] = m
	}
	return iface
}

// Name returns the interface name used on the wire.
func (i *Interface) Name() string {
	return i.name
}

// Method looks up a declared method.
func (i *Interface) Method(name string) (Method, bool) {
	m, ok := i.methods[name]
	return m, ok
}

// Methods returns the declared methods sorted by name.
func (i *Interface) Methods() []Method {
	out := make([]Method, 0, len(i.methods))
	for _, m := range i.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
