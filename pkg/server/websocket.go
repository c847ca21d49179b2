package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vango-dev/syncore/pkg/protocol"
	"github.com/vango-dev/syncore/pkg/push"
	"github.com/vango-dev/syncore/pkg/session"
)

// wsResource is a WebSocket push transport. Broadcast only enqueues;
// writeLoop owns all writes to the connection, so pushes leave in the
// order they were made.
type wsResource struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newWSResource(conn *websocket.Conn, queueSize int, logger *slog.Logger) *wsResource {
	return &wsResource{
		conn:   conn,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Broadcast implements push.Resource.
func (r *wsResource) Broadcast(msg []byte) error {
	select {
	case <-r.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case r.send <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Resume implements push.Resource. The connection is closed once the
// queued pushes have been written.
func (r *wsResource) Resume() {
	r.once.Do(func() { close(r.done) })
}

// Transport implements push.Resource.
func (r *wsResource) Transport() push.Transport {
	return push.TransportWebSocket
}

// writeLoop writes queued pushes and pings until the resource is released
// or a write fails.
func (s *Server) writeLoop(ctx context.Context, sess *session.Session, r *wsResource) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	defer r.conn.Close()

	for {
		select {
		case msg := <-r.send:
			if err := s.writePush(ctx, sess, r, msg); err != nil {
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(s.config.WriteTimeout)
			if err := r.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				r.logger.Debug("ping failed", "error", err)
				s.metrics.WebSocketError("ping")
				return
			}

		case <-r.done:
			// Flush what was queued before the release.
			for {
				select {
				case msg := <-r.send:
					if err := s.writePush(ctx, sess, r, msg); err != nil {
						return
					}
				default:
					deadline := time.Now().Add(s.config.WriteTimeout)
					_ = r.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
					return
				}
			}
		}
	}
}

func (s *Server) writePush(ctx context.Context, sess *session.Session, r *wsResource, msg []byte) error {
	_, span := s.startSpan(ctx, "syncore.push", sess.ID(), push.TransportWebSocket)
	defer span.End()
	span.SetAttributes(attrMessageBytes.Int(len(msg)))

	_ = r.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := r.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		r.logger.Debug("write failed", "error", err)
		s.metrics.WebSocketError("write")
		recordError(span, err)
		return err
	}
	return nil
}

// readLoop feeds incoming frames through the session until the connection
// fails or the resource is no longer attached.
func (s *Server) readLoop(ctx context.Context, sess *session.Session, r *wsResource) {
	limit := rate.Inf
	if s.config.MessageRate > 0 {
		limit = rate.Limit(s.config.MessageRate)
	}
	limiter := rate.NewLimiter(limit, s.config.MessageBurst)

	r.conn.SetReadLimit(s.config.MaxFrameSize)
	_ = r.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	r.conn.SetPongHandler(func(string) error {
		sess.Heartbeat()
		return r.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})

	for {
		_, frame, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				r.logger.Warn("read error", "error", err)
				s.metrics.WebSocketError("read")
			}
			return
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))

		if !limiter.Allow() {
			s.metrics.RateLimited()
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		msg, err := sess.Receive(r, bytes.NewReader(frame))
		switch {
		case errors.Is(err, session.ErrNotAttached):
			return
		case err != nil:
			r.logger.Warn("dropping malformed frame", "error", err)
			s.metrics.WebSocketError("framing")
			continue
		case msg == nil:
			continue
		}

		cm, err := protocol.DecodeClientMessage(msg)
		if err != nil {
			r.logger.Warn("dropping malformed message", "error", err)
			s.metrics.WebSocketError("decode")
			continue
		}
		s.handleClientMessage(ctx, sess, push.TransportWebSocket, cm)
	}
}

// handleClientMessage dispatches a message received over a push transport.
func (s *Server) handleClientMessage(ctx context.Context, sess *session.Session, transport push.Transport, cm *protocol.ClientMessage) {
	_, span := s.startSpan(ctx, "syncore.rpc", sess.ID(), transport)
	defer span.End()
	span.SetAttributes(attrRPCCount.Int(len(cm.RPC)), attrSyncID.Int(cm.SyncID))

	if err := sess.HandleClientMessage(cm); err != nil {
		recordError(span, err)
		s.logger.Warn("client message failed",
			"session_id", sess.ID(),
			"error", &RequestError{SessionID: sess.ID(), Op: "rpc", Err: err})
	}
}
