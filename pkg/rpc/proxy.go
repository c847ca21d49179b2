package rpc

import (
	"github.com/vango-dev/syncore/internal/errors"
	"github.com/vango-dev/syncore/pkg/protocol"
)

// Proxy turns calls of an Interface's methods on one connector into queued
// invocations.
type Proxy struct {
	iface       *Interface
	connectorID string
	queue       *Queue
}

// NewProxy creates an unbound proxy for iface.
func NewProxy(iface *Interface) *Proxy {
	return &Proxy{iface: iface}
}

// Init binds the proxy to a connector and the queue its calls go to.
func (p *Proxy) Init(connectorID string, q *Queue) {
	if q == nil {
		errors.Panicf("S201", "proxy for %s initialized without a queue", p.iface.Name())
	}
	p.connectorID = connectorID
	p.queue = q
}

// Initialized reports whether Init has been called.
func (p *Proxy) Initialized() bool {
	return p.queue != nil
}

// Call enqueues an invocation of method with args. The arguments are
// encoded immediately. Calling an uninitialized proxy or an undeclared
// method panics; an argument that cannot be encoded is returned as an error
// and nothing is enqueued.
func (p *Proxy) Call(method string, args ...any) error {
	if p.queue == nil {
		errors.Panicf("S201", "%s.%s called before the proxy was initialized", p.iface.Name(), method)
	}
	m, ok := p.iface.Method(method)
	if !ok {
		errors.Panicf("S202", "%s has no method %s", p.iface.Name(), method)
	}

	inv, err := protocol.NewInvocation(p.connectorID, p.iface.Name(), method, args...)
	if err != nil {
		return errors.New("S105").Wrap(err)
	}
	p.queue.Add(inv, m.Delayed, m.LastOnly)
	return nil
}
