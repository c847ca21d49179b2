// Package errors provides coded, categorized errors for syncore.
//
// Every failure the synchronization core can report is registered under a
// short code (e.g. "S102") that maps to:
//   - a category (protocol, usage, transport, bundle, config)
//   - a short message describing the failure
//   - a longer explanation
//
// # Categories
//
//   - protocol: malformed or overflowing frames, undecodable messages.
//     Returned to the caller; partial state is discarded.
//   - usage: programming-contract violations such as disconnecting a
//     connection that is not connected or calling an RPC proxy that was
//     never initialized. These panic with a *SyncError.
//   - transport: a push could not be composed or sent. Returned wrapped.
//   - bundle: a bundle failed to load. Recorded as the bundle's terminal
//     state with the original cause preserved.
//   - config: configuration could not be loaded or is invalid.
//
// # Usage
//
//	err := errors.New("S102").
//	    WithMessagef("received %d bytes, expected %d", got, want)
//
//	if errors.Is(err, errors.New("S102")) {
//	    // framing desync
//	}
//
// Usage errors are raised with Panicf:
//
//	errors.Panicf("S204", "disconnect while %s", state)
package errors
