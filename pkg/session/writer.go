package session

import (
	"fmt"
	"io"

	"github.com/vango-dev/syncore/pkg/connector"
	"github.com/vango-dev/syncore/pkg/protocol"
	"github.com/vango-dev/syncore/pkg/rpc"
)

// Writer composes server → client message bodies from the changes recorded
// in a registry, a tracker and a client RPC queue. It implements
// push.MessageWriter. It is not safe for concurrent use.
type Writer struct {
	registry *connector.Registry
	tracker  *connector.Tracker
	queue    *rpc.Queue
	syncID   int
	resync   bool
}

// NewWriter creates a writer. The first message it writes has sync id 0.
func NewWriter(reg *connector.Registry, tracker *connector.Tracker, queue *rpc.Queue) *Writer {
	return &Writer{registry: reg, tracker: tracker, queue: queue}
}

// LastSyncID returns the sync id of the last message written, or -1.
func (w *Writer) LastSyncID() int {
	return w.syncID - 1
}

// RequestResync makes the next message carry the full state of every
// connector.
func (w *Writer) RequestResync() {
	w.resync = true
}

// WriteMessage writes the body of the next message: new connector types,
// changed hierarchy, state deltas, pending client RPC and unregistered ids.
// When composing fails the next message becomes a full resync, since part
// of the changes may already have been consumed.
func (w *Writer) WriteMessage(out io.Writer, async bool) error {
	msg, err := w.compose(async)
	if err != nil {
		w.resync = true
		return err
	}
	body, err := protocol.EncodeServerBody(msg)
	if err != nil {
		w.resync = true
		return err
	}
	if _, err := out.Write(body); err != nil {
		w.resync = true
		return fmt.Errorf("session: writing message: %w", err)
	}
	w.syncID++
	return nil
}

func (w *Writer) compose(async bool) (*protocol.ServerMessage, error) {
	msg := &protocol.ServerMessage{
		SyncID: w.syncID,
		Async:  async,
	}

	if w.resync {
		w.resync = false
		msg.Resynchronize = true
		w.registry.ForgetClient()
		w.tracker.Reset()
		w.registry.MarkAllDirty()
	}

	for _, id := range w.registry.TakeUnregistered() {
		w.tracker.Forget(id)
		msg.Unregistered = append(msg.Unregistered, id)
	}

	for _, c := range w.registry.TakeDirty() {
		id := c.ConnectorID()
		if w.registry.MarkClientKnown(id) {
			if msg.Types == nil {
				msg.Types = make(map[string]string)
			}
			msg.Types[id] = c.TypeIdentifier()
		}
		delta, err := w.tracker.Diff(id, c.SharedState())
		if err != nil {
			return nil, err
		}
		if len(delta) > 0 {
			if msg.State == nil {
				msg.State = make(map[string]protocol.StateDelta)
			}
			msg.State[id] = delta
		}
	}

	msg.Hierarchy = w.registry.TakeHierarchyChanges()
	msg.RPC = w.queue.Flush()
	return msg, nil
}
