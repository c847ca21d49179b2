// Package server exposes syncore sessions over HTTP.
//
// The server is the transport layer around pkg/session. It owns no
// synchronization state of its own: every request resolves a session by id
// and goes through the session's lock.
//
// # Endpoints
//
//	POST /session               create a session, return its id and initial message
//	POST /rpc/{sessionID}       XHR request/response: client message in, server message out
//	POST /heartbeat/{sessionID} refresh the session heartbeat
//	GET  /push/{sessionID}      WebSocket push channel
//	GET  /push/{sessionID}?transport=long-polling
//	                            long-polling push channel
//	GET  /bundles/{name}        bundle payloads from a bundle.Source
//	GET  /health                session count and oldest heartbeat
//	GET  /metrics               Prometheus metrics, when a collector is set
//
// # WebSocket transport
//
// An upgraded connection is attached to the session as a push.Resource.
// Broadcast only enqueues; a writer goroutine owns the connection's write
// side, so pushes of one session leave in the order they were made and a
// push never blocks on the network while the session lock is held. A full
// send queue fails the push.
//
// Client frames are length-prefixed and may split one message across
// several frames. They are fed through the session's push connection for
// reassembly and complete messages are dispatched. Inbound frames are rate
// limited per connection.
//
// # Long-polling transport
//
// A long-polling request is attached as a push.Resource that completes the
// response with the first pushed message and detaches. Messages pass
// through without length prefixes. An idle poll completes with
// 204 No Content after LongPollTimeout.
//
// ServerConfig.Transport restricts the server to one of the two
// transports; a push request for the other one gets 400 Bad Request.
//
// # Example Usage
//
//	manager := session.NewManager(session.DefaultConfig(),
//	    session.WithInit(func(ui *session.UI) error {
//	        ui.Register(newLabel("hello"))
//	        return nil
//	    }))
//	srv := server.New(manager, server.DefaultServerConfig(),
//	    server.WithBundleSource(bundle.NewFSSource("bundles")),
//	    server.WithMetrics(metrics.New()))
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
