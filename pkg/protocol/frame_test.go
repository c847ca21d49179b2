package protocol

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"
)

func TestNewFragmentedMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr bool
	}{
		{name: "simple", input: "12|hello", wantLen: 12},
		{name: "zero", input: "0|", wantLen: 0},
		{name: "no_payload_yet", input: "5|", wantLen: 5},
		{name: "empty_length", input: "|abc", wantErr: true},
		{name: "non_numeric", input: "1a|abc", wantErr: true},
		{name: "negative", input: "-3|abc", wantErr: true},
		{name: "no_delimiter", input: "123", wantErr: true},
		{name: "too_many_digits", input: "12345678901|x", wantErr: true},
		{name: "too_large", input: "99999999|x", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := NewFragmentedMessage(strings.NewReader(tc.input), 1<<20)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidLength) {
					t.Fatalf("NewFragmentedMessage(%q) error = %v, want ErrInvalidLength", tc.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFragmentedMessage(%q) error = %v", tc.input, err)
			}
			if msg.Length() != tc.wantLen {
				t.Errorf("Length() = %d, want %d", msg.Length(), tc.wantLen)
			}
		})
	}
}

func TestFragmentedMessageAppend(t *testing.T) {
	r := strings.NewReader("10|01234")
	msg, err := NewFragmentedMessage(r, 0)
	if err != nil {
		t.Fatalf("NewFragmentedMessage() error = %v", err)
	}

	done, err := msg.Append(r)
	if err != nil || done {
		t.Fatalf("Append(first) = %v, %v; want false, nil", done, err)
	}
	if msg.Len() != 5 {
		t.Errorf("Len() = %d, want 5", msg.Len())
	}

	done, err = msg.Append(strings.NewReader("56789"))
	if err != nil || !done {
		t.Fatalf("Append(second) = %v, %v; want true, nil", done, err)
	}

	got, _ := io.ReadAll(msg.Reader())
	if string(got) != "0123456789" {
		t.Errorf("Reader() = %q, want %q", got, "0123456789")
	}
}

func TestFragmentedMessageOverflow(t *testing.T) {
	r := strings.NewReader("4|abc")
	msg, err := NewFragmentedMessage(r, 0)
	if err != nil {
		t.Fatalf("NewFragmentedMessage() error = %v", err)
	}
	if _, err := msg.Append(r); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	done, err := msg.Append(strings.NewReader("de"))
	if !errors.Is(err, ErrFragmentOverflow) {
		t.Fatalf("Append() error = %v, want ErrFragmentOverflow", err)
	}
	if done {
		t.Error("Append() reported completion on overflow")
	}
	if msg.Len() > msg.Length() {
		t.Errorf("Len() = %d exceeds declared %d", msg.Len(), msg.Length())
	}
}

func TestFragmentedMessageReaderError(t *testing.T) {
	msg := &FragmentedMessage{length: 3}
	_, err := msg.Append(iotest.ErrReader(io.ErrClosedPipe))
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Append() error = %v, want ErrClosedPipe", err)
	}
}

func TestReassemblerSingleFrame(t *testing.T) {
	var ra Reassembler
	r, err := ra.Receive(bytes.NewReader(EncodeFramed([]byte("hello"))))
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if r == nil {
		t.Fatal("Receive() = nil, want complete message")
	}
	got, _ := io.ReadAll(r)
	if string(got) != "hello" {
		t.Errorf("message = %q, want %q", got, "hello")
	}
	if ra.Pending() {
		t.Error("Pending() = true after completion")
	}
}

// Splitting a framed payload anywhere must reassemble the exact payload,
// and only the frame that reaches the declared length completes it.
func TestReassemblerRoundTripArbitrarySplits(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		payload := make([]byte, rng.Intn(3000))
		for i := range payload {
			payload[i] = byte('a' + rng.Intn(26))
		}
		framed := EncodeFramed(payload)
		prefixLen := len(framed) - len(payload)

		// The length prefix is read from the first frame, so the first
		// split point must not fall inside it.
		var cuts []int
		pos := prefixLen
		for pos < len(framed) {
			pos += 1 + rng.Intn(400)
			if pos < len(framed) {
				cuts = append(cuts, pos)
			}
		}

		var frames [][]byte
		start := 0
		for _, c := range cuts {
			frames = append(frames, framed[start:c])
			start = c
		}
		frames = append(frames, framed[start:])

		var ra Reassembler
		var result io.Reader
		for i, f := range frames {
			r, err := ra.Receive(bytes.NewReader(f))
			if err != nil {
				t.Fatalf("iter %d frame %d: Receive() error = %v", iter, i, err)
			}
			if r != nil && i != len(frames)-1 {
				t.Fatalf("iter %d: completed at frame %d of %d", iter, i, len(frames))
			}
			result = r
		}
		if result == nil {
			t.Fatalf("iter %d: message not completed after %d frames", iter, len(frames))
		}
		got, _ := io.ReadAll(result)
		if !bytes.Equal(got, payload) {
			t.Fatalf("iter %d: reassembled %d bytes, want %d", iter, len(got), len(payload))
		}
	}
}

func TestReassemblerOverflowDiscardsPartial(t *testing.T) {
	var ra Reassembler

	if r, err := ra.Receive(strings.NewReader("5|abc")); r != nil || err != nil {
		t.Fatalf("Receive(first) = %v, %v", r, err)
	}
	if _, err := ra.Receive(strings.NewReader("defgh")); !errors.Is(err, ErrFragmentOverflow) {
		t.Fatalf("Receive(overflow) error = %v, want ErrFragmentOverflow", err)
	}
	if ra.Pending() {
		t.Fatal("partial message kept after overflow")
	}

	// The next frame starts a fresh message.
	r, err := ra.Receive(strings.NewReader("2|ok"))
	if err != nil || r == nil {
		t.Fatalf("Receive(after overflow) = %v, %v", r, err)
	}
	got, _ := io.ReadAll(r)
	if string(got) != "ok" {
		t.Errorf("message = %q, want %q", got, "ok")
	}
}

func TestReassemblerInvalidHeader(t *testing.T) {
	for _, frame := range []string{"abc|def", "+2|ab", "-1|", " 2|ab", "2 |ab", "0x2|ab", "|ab"} {
		t.Run(frame, func(t *testing.T) {
			var ra Reassembler
			if _, err := ra.Receive(strings.NewReader(frame)); !errors.Is(err, ErrInvalidLength) {
				t.Fatalf("Receive(%q) error = %v, want ErrInvalidLength", frame, err)
			}
			if ra.Pending() {
				t.Error("Pending() = true after header error")
			}
		})
	}
}

func TestReassemblerNonByteReader(t *testing.T) {
	var ra Reassembler
	r, err := ra.Receive(iotest.OneByteReader(strings.NewReader("3|xyz")))
	if err != nil || r == nil {
		t.Fatalf("Receive() = %v, %v", r, err)
	}
	got, _ := io.ReadAll(r)
	if string(got) != "xyz" {
		t.Errorf("message = %q, want %q", got, "xyz")
	}
}

func TestEncodeFramed(t *testing.T) {
	if got := string(EncodeFramed([]byte("héllo"))); got != "6|héllo" {
		t.Errorf("EncodeFramed() = %q, want %q", got, "6|héllo")
	}
	if got := string(EncodeFramed(nil)); got != "0|" {
		t.Errorf("EncodeFramed(nil) = %q, want %q", got, "0|")
	}
}

func TestFragment(t *testing.T) {
	data := []byte("abcdefghij")

	tests := []struct {
		size int
		want []string
	}{
		{size: 3, want: []string{"abc", "def", "ghi", "j"}},
		{size: 5, want: []string{"abcde", "fghij"}},
		{size: 10, want: []string{"abcdefghij"}},
		{size: 0, want: []string{"abcdefghij"}},
	}

	for _, tc := range tests {
		frames := Fragment(data, tc.size)
		if len(frames) != len(tc.want) {
			t.Fatalf("Fragment(size=%d) = %d frames, want %d", tc.size, len(frames), len(tc.want))
		}
		for i := range frames {
			if string(frames[i]) != tc.want[i] {
				t.Errorf("Fragment(size=%d)[%d] = %q, want %q", tc.size, i, frames[i], tc.want[i])
			}
		}
	}
}
