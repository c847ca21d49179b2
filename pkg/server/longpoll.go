package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/vango-dev/syncore/pkg/push"
	"github.com/vango-dev/syncore/pkg/session"
)

// pollResource is a long-polling push transport. It carries exactly one
// message: the request completes with the first broadcast and the resource
// is detached.
type pollResource struct {
	msg  chan []byte
	done chan struct{}
	once sync.Once
}

func newPollResource() *pollResource {
	return &pollResource{
		msg:  make(chan []byte, 1),
		done: make(chan struct{}),
	}
}

// Broadcast implements push.Resource.
func (r *pollResource) Broadcast(msg []byte) error {
	select {
	case <-r.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case r.msg <- msg:
		return nil
	default:
		return ErrPollCompleted
	}
}

// Resume implements push.Resource.
func (r *pollResource) Resume() {
	r.once.Do(func() { close(r.done) })
}

// Transport implements push.Resource.
func (r *pollResource) Transport() push.Transport {
	return push.TransportLongPolling
}

// handleLongPoll parks the request as the session's push transport until a
// message is pushed, another transport replaces it or the poll times out.
func (s *Server) handleLongPoll(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	res := newPollResource()
	if err := sess.AttachPush(res); err != nil {
		s.logger.Warn("long-polling attach failed", "session_id", sess.ID(), "error", err)
		if sess.IsClosed() {
			writeError(w, err)
			return
		}
	}

	timer := time.NewTimer(s.config.LongPollTimeout)
	defer timer.Stop()

	select {
	case msg := <-res.msg:
		sess.DetachPush(res)
		s.writePoll(w, r, sess, msg)
		return
	case <-res.done:
		// Replaced by another transport or the session closed.
	case <-timer.C:
		sess.DetachPush(res)
	case <-r.Context().Done():
		sess.DetachPush(res)
		return
	}

	// A push may have landed before the resource was released.
	select {
	case msg := <-res.msg:
		s.writePoll(w, r, sess, msg)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) writePoll(w http.ResponseWriter, r *http.Request, sess *session.Session, msg []byte) {
	_, span := s.startSpan(r.Context(), "syncore.push", sess.ID(), push.TransportLongPolling)
	defer span.End()
	span.SetAttributes(attrMessageBytes.Int(len(msg)))

	w.Header().Set("Content-Type", contentTypeJSON)
	if _, err := w.Write(msg); err != nil {
		recordError(span, err)
	}
}
