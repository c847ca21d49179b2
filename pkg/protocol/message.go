package protocol

import (
	"encoding/json"
	"io"

	"github.com/vango-dev/syncore/internal/errors"
)

// StateDelta maps shared state field names to their encoded values.
type StateDelta map[string]json.RawMessage

// ServerMessage is the body of a server → client message.
type ServerMessage struct {
	// SyncID increases by one for every message the server writes.
	SyncID int `json:"syncId"`

	// Async is true for server-initiated pushes and false for responses to
	// a client message.
	Async bool `json:"async,omitempty"`

	// Resynchronize asks the client to drop its mirror; the message carries
	// the full state of every connector.
	Resynchronize bool `json:"resynchronize,omitempty"`

	// Types maps connector ids new to the client to their type identifiers.
	Types map[string]string `json:"types,omitempty"`

	// Hierarchy maps connector ids to their child ids.
	Hierarchy map[string][]string `json:"hierarchy,omitempty"`

	// State maps connector ids to changed shared state fields.
	State map[string]StateDelta `json:"state,omitempty"`

	// RPC holds client RPC invocations in call order.
	RPC []Invocation `json:"rpc,omitempty"`

	// Unregistered lists connector ids released since the last message.
	Unregistered []string `json:"unregistered,omitempty"`
}

// ClientMessage is the body of a client → server message.
type ClientMessage struct {
	// SyncID is the last server sync id the client applied, -1 before the
	// first message.
	SyncID int `json:"syncId"`

	// Resynchronize asks the server to send the full state of every
	// connector, used when the client detects a gap in sync ids.
	Resynchronize bool `json:"resynchronize,omitempty"`

	// RPC holds server RPC invocations in call order.
	RPC []Invocation `json:"rpc,omitempty"`
}

// EncodeServerBody encodes m as the members of a JSON object, ready for
// WrapPush.
func EncodeServerBody(m *ServerMessage) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.New("S104").Wrap(err)
	}
	return ObjectBody(data)
}

// DecodeServerMessage decodes a JSON object produced by UnwrapPush.
func DecodeServerMessage(obj []byte) (*ServerMessage, error) {
	var m ServerMessage
	if err := json.Unmarshal(obj, &m); err != nil {
		return nil, errors.New("S104").WithMessagef("malformed server message").Wrap(err)
	}
	return &m, nil
}

// EncodeClientMessage encodes m as a JSON object.
func EncodeClientMessage(m *ClientMessage) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.New("S104").Wrap(err)
	}
	return data, nil
}

// DecodeClientMessage decodes a client message from r.
func DecodeClientMessage(r io.Reader) (*ClientMessage, error) {
	var m ClientMessage
	dec := json.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return nil, errors.New("S104").WithMessagef("malformed client message").Wrap(err)
	}
	if dec.More() {
		return nil, errors.New("S104").WithMessagef("trailing data after client message")
	}
	return &m, nil
}
