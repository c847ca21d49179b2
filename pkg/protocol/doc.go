// Package protocol implements the syncore wire protocol.
//
// It covers three concerns that sit between a transport and the session
// layer:
//
//   - Framing: reassembly of one logical message delivered as several
//     physical WebSocket frames.
//   - Envelope: the guard prefix wrapped around every server push.
//   - Messages: the JSON schemas exchanged in both directions, including
//     RPC invocation records.
//
// # Framing
//
// Some transports cap the size of a single frame below the size of an
// application message (a full state dump after a large structural change
// easily exceeds it). Messages sent over the full-duplex WebSocket transport
// are therefore length-prefixed:
//
//	<decimal length>|<exactly length bytes of UTF-8 payload>
//
// and may be split anywhere into physical frames. The receiving side feeds
// each frame to a Reassembler, which parses the prefix when no message is in
// progress, appends the rest and hands out the complete message once the
// accumulated length equals the declared length. Receiving more bytes than
// declared is a framing desync; the partial message is discarded and
// ErrFragmentOverflow returned. Other transports deliver one message per
// frame and bypass framing entirely.
//
// # Envelope
//
// Server pushes are wrapped as
//
//	for(;;);[{ ...message body... }]
//
// so that the payload cannot be executed as a top-level script if it is ever
// loaded outside its intended consumer.
//
// # Messages
//
// ServerMessage carries state deltas, connector types, hierarchy, client RPC
// and unregistered connector ids. ClientMessage carries the last seen server
// sync id and server RPC invocations. Invocation is the record shape used in
// both directions:
//
//	{"connectorId": "3", "interfaceName": "button.ServerRPC",
//	 "methodName": "click", "args": [...], "delayed": false, "lastOnly": false}
package protocol
