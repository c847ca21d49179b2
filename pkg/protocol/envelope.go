package protocol

import (
	"bytes"

	"github.com/vango-dev/syncore/internal/errors"
)

const (
	// PushPrefix opens every server push. for(;;); makes the payload
	// unusable as an included script.
	PushPrefix = "for(;;);[{"

	// PushSuffix closes every server push.
	PushSuffix = "}]"

	guard = "for(;;);"
)

// WrapPush wraps a message body (the members of a JSON object without the
// surrounding braces) in the push envelope.
func WrapPush(body []byte) []byte {
	buf := make([]byte, 0, len(PushPrefix)+len(body)+len(PushSuffix))
	buf = append(buf, PushPrefix...)
	buf = append(buf, body...)
	return append(buf, PushSuffix...)
}

// UnwrapPush strips the push envelope and returns the JSON object it
// contains, braces included.
func UnwrapPush(msg []byte) ([]byte, error) {
	msg = bytes.TrimSpace(msg)
	if !bytes.HasPrefix(msg, []byte(guard)) {
		return nil, errors.New("S103").WithMessagef("missing %q guard", guard)
	}
	inner := bytes.TrimSpace(msg[len(guard):])
	if len(inner) < 2 || inner[0] != '[' || inner[len(inner)-1] != ']' {
		return nil, errors.New("S103").WithMessagef("push payload is not a single-element array")
	}
	obj := bytes.TrimSpace(inner[1 : len(inner)-1])
	if len(obj) < 2 || obj[0] != '{' || obj[len(obj)-1] != '}' {
		return nil, errors.New("S103").WithMessagef("push payload does not contain an object")
	}
	return obj, nil
}

// ObjectBody returns the members of an encoded JSON object without the
// surrounding braces.
func ObjectBody(obj []byte) ([]byte, error) {
	obj = bytes.TrimSpace(obj)
	if len(obj) < 2 || obj[0] != '{' || obj[len(obj)-1] != '}' {
		return nil, errors.New("S104").WithMessagef("not a JSON object")
	}
	return obj[1 : len(obj)-1], nil
}
