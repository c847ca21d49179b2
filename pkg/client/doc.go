// Package client is a Go client for syncore servers.
//
// A Client mirrors one server session. Dial creates the session over HTTP
// (or resumes a configured one) and opens the WebSocket push channel;
// after a transport error the channel is reopened with exponential
// backoff until the server reports the session gone.
//
// Incoming messages are applied to a Mirror strictly in receive order. A
// message introducing connector types whose bundles are not loaded yet is
// held, together with every later message, until the bundle loader
// reports back. A gap in sync ids makes the client ask the server for a
// full resynchronization.
//
// Server RPC goes through proxies bound to an rpc.Queue; a non-delayed
// call flushes the queue as one length-prefixed client message written in
// fragments of at most MaxFragmentSize bytes.
//
// Everything touching the mirror, the queue or the bundle loader runs on
// the client's event loop:
//
//	err := c.Do(ctx, func(m *client.Mirror) error {
//	    return c.Proxy(buttonRPC, "0").Call("click")
//	})
package client
