package rpc

import (
	"slices"

	"github.com/vango-dev/syncore/pkg/protocol"
)

// Queue holds invocations waiting to be sent. It is not safe for concurrent
// use; the owning session serializes access.
type Queue struct {
	pending []protocol.Invocation
	onFlush func()
}

// NewQueue creates a queue. onFlush, when non-nil, is called after every
// non-delayed Add to request an immediate round trip.
func NewQueue(onFlush func()) *Queue {
	return &Queue{onFlush: onFlush}
}

// Add enqueues inv. A last-only invocation removes a pending last-only
// invocation with the same tag and is appended at the end, so the latest
// call wins and keeps its place relative to other calls made after the
// replaced one. Other invocations are always appended.
func (q *Queue) Add(inv protocol.Invocation, delayed, lastOnly bool) {
	inv.Delayed = delayed
	inv.LastOnly = lastOnly

	if lastOnly {
		tag := inv.LastOnlyTag()
		q.pending = slices.DeleteFunc(q.pending, func(p protocol.Invocation) bool {
			return p.LastOnly && p.LastOnlyTag() == tag
		})
	}
	q.pending = append(q.pending, inv)

	if !delayed && q.onFlush != nil {
		q.onFlush()
	}
}

// Flush returns the pending invocations in order and empties the queue.
func (q *Queue) Flush() []protocol.Invocation {
	out := q.pending
	q.pending = nil
	return out
}

// Len returns the number of pending invocations.
func (q *Queue) Len() int {
	return len(q.pending)
}
