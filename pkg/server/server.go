package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/syncore/pkg/bundle"
	"github.com/vango-dev/syncore/pkg/metrics"
	"github.com/vango-dev/syncore/pkg/protocol"
	"github.com/vango-dev/syncore/pkg/push"
	"github.com/vango-dev/syncore/pkg/session"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Server exposes sessions over HTTP: session creation, XHR RPC, heartbeats,
// push transports, bundle payloads and metrics.
type Server struct {
	config   *ServerConfig
	sessions *session.Manager
	bundles  bundle.Source
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *slog.Logger

	upgrader websocket.Upgrader
	cors     *cors.Cors
	router   chi.Router

	mu         sync.Mutex
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBundleSource serves bundle payloads from src under /bundles.
func WithBundleSource(src bundle.Source) Option {
	return func(s *Server) {
		s.bundles = src
	}
}

// WithMetrics records transport metrics and serves them under /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
	}
}

// WithTracerProvider sets the tracer provider. Default: the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		if tp != nil {
			s.tracer = tp.Tracer(defaultTracerName)
		}
	}
}

// New creates a Server for the sessions of m.
func New(m *session.Manager, config *ServerConfig, opts ...Option) *Server {
	s := &Server{
		config:   config.withDefaults(),
		sessions: m,
		tracer:   otel.Tracer(defaultTracerName),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")

	s.cors = cors.New(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  s.config.ReadBufferSize,
		WriteBufferSize: s.config.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if r.Header.Get("Origin") == "" {
				return true
			}
			return s.cors.OriginAllowed(r)
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.cors.Handler)

	r.Post("/session", s.handleCreateSession)
	r.Post("/rpc/{sessionID}", s.handleRPC)
	r.Post("/heartbeat/{sessionID}", s.handleHeartbeat)
	r.Get("/push/{sessionID}", s.handlePush)
	r.Get("/bundles/{name}", s.handleBundle)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Handler returns the HTTP handler serving all endpoints.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// recoverer turns a handler panic into a 500 and a log entry.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("handler panic",
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
					"panic", rec,
					"stack", string(debug.Stack()))
				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err == nil && sess.IsClosed() {
		err = session.ErrSessionClosed
	}
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

// createResponse is the body of POST /session.
type createResponse struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		s.logger.Warn("session create failed", "error", err)
		writeError(w, err)
		return
	}

	msg, err := sess.HandleRequest(&protocol.ClientMessage{SyncID: -1})
	if msg == nil {
		s.logger.Error("initial message failed", "session_id", sess.ID(), "error", err)
		s.sessions.Close(sess.ID())
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createResponse{SessionID: sess.ID(), Message: string(msg)})
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status           string    `json:"status"`
	Sessions         int       `json:"sessions"`
	OldestHeartbeat  *time.Time `json:"oldestHeartbeat,omitempty"`
	HeartbeatTimeout string    `json:"heartbeatTimeout"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.sessions.Stats()
	resp := healthResponse{
		Status:           "ok",
		Sessions:         st.Active,
		HeartbeatTimeout: st.HeartbeatTimeout.String(),
	}
	if !st.OldestHeartbeat.IsZero() {
		oldest := st.OldestHeartbeat.UTC()
		resp.OldestHeartbeat = &oldest
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	cm, err := protocol.DecodeClientMessage(http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize))
	if err != nil {
		writeError(w, err)
		return
	}

	_, span := s.startSpan(r.Context(), "syncore.rpc", sess.ID(), "xhr")
	defer span.End()
	span.SetAttributes(attrRPCCount.Int(len(cm.RPC)), attrSyncID.Int(cm.SyncID))

	msg, err := sess.HandleRequest(cm)
	if err != nil {
		recordError(span, err)
		s.logger.Warn("rpc request failed",
			"session_id", sess.ID(),
			"error", &RequestError{SessionID: sess.ID(), Op: "rpc", Err: err})
	}
	if msg == nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	_, _ = w.Write(msg)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Heartbeat()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	transport := push.TransportWebSocket
	if r.URL.Query().Get("transport") == string(push.TransportLongPolling) {
		transport = push.TransportLongPolling
	}
	if s.config.Transport != "" && transport != s.config.Transport {
		http.Error(w, "transport not supported", http.StatusBadRequest)
		return
	}
	if transport == push.TransportLongPolling {
		s.handleLongPoll(w, r, sess)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", sess.ID(), "error", err)
		s.metrics.WebSocketError("upgrade")
		return
	}

	logger := s.logger.With("session_id", sess.ID(), "transport", string(push.TransportWebSocket))
	res := newWSResource(conn, s.config.SendQueueSize, logger)
	ctx := r.Context()
	go s.writeLoop(ctx, sess, res)

	if err := sess.AttachPush(res); err != nil {
		logger.Warn("attach failed", "error", err)
		if sess.IsClosed() {
			res.Resume()
			return
		}
	}
	logger.Debug("push transport attached")

	s.readLoop(ctx, sess, res)

	sess.DetachPush(res)
	res.Resume()
	logger.Debug("push transport detached")
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !bundle.ValidName(name) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if s.bundles == nil {
		http.NotFound(w, r)
		return
	}

	data, err := s.bundles.Fetch(r.Context(), name)
	if err != nil {
		if !errors.Is(err, bundle.ErrNotFound) {
			s.logger.Error("bundle fetch failed", "bundle", name, "error", err)
		}
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	_, _ = w.Write(data)
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return &RequestError{Op: "listen", Err: err}
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown closes all sessions, which releases their push transports, and
// stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")

	sessErr := s.sessions.Shutdown(ctx)

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var srvErr error
	if srv != nil {
		srvErr = srv.Shutdown(ctx)
	}
	return errors.Join(sessErr, srvErr)
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Config returns a copy of the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config.Clone()
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
