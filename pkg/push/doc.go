// Package push implements the per-UI server push connection.
//
// A Connection decides whether an outbound message is sent right away or
// deferred until a transport attaches. While no transport is attached,
// Push records what is owed:
//
//	DISCONNECTED --Push(async)--> PUSH_PENDING
//	DISCONNECTED --Push(sync)---> RESPONSE_PENDING
//	PUSH_PENDING --Push(sync)---> RESPONSE_PENDING
//
// Connect attaches a Resource and flushes the owed message. A response
// flush (async = false) also satisfies a pending push, so RESPONSE_PENDING
// is never downgraded to PUSH_PENDING.
//
// The state CONNECTED holds exactly when a resource is attached. Every
// method checks this and panics when it does not hold.
//
// Connection performs no locking. Callers hold the owning session's lock
// around every call, which also keeps messages for one UI in Push order.
package push
