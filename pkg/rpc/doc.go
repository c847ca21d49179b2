// Package rpc implements RPC proxies, the invocation queue and
// reflection-free dispatch.
//
// An Interface is a declarative table of methods with their delivery
// qualifiers. A Proxy bound to a connector turns calls into
// protocol.Invocation records and adds them to a Queue:
//
//	var ButtonServerRPC = rpc.NewInterface("demo.ButtonServerRpc",
//	    rpc.Method{Name: "click"},
//	    rpc.Method{Name: "hover", Delayed: true, LastOnly: true},
//	)
//
//	p := rpc.NewProxy(ButtonServerRPC)
//	p.Init(button.ConnectorID(), queue)
//	err := p.Call("click", details)
//
// On the receiving side a Dispatcher maps (interface, method) to handlers
// built with Method0, Method1 and Method2, which decode the argument list
// into typed parameters:
//
//	d.Register(ButtonServerRPC, "click",
//	    rpc.Method1(func(b *Button, d ClickDetails) error { return b.onClick(d) }))
package rpc
