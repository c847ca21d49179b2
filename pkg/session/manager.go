package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/vango-dev/syncore/pkg/metrics"
	"github.com/vango-dev/syncore/pkg/rpc"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock sets the clock driving heartbeat expiry.
func WithManagerClock(c clockwork.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records session, push and RPC metrics.
func WithMetrics(c *metrics.Collector) ManagerOption {
	return func(m *Manager) {
		m.metrics = c
	}
}

// WithInit sets the function that builds the connector graph of every new
// session.
func WithInit(fn InitFunc) ManagerOption {
	return func(m *Manager) {
		m.init = fn
	}
}

// WithServerRPC sets the dispatcher shared by all sessions.
func WithServerRPC(d *rpc.Dispatcher) ManagerOption {
	return func(m *Manager) {
		m.dispatcher = d
	}
}

// Manager creates sessions and closes those whose heartbeat expired.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// pending counts sessions reserved against MaxSessions whose init
	// function is still running.
	pending int

	config     *Config
	init       InitFunc
	dispatcher *rpc.Dispatcher
	clock      clockwork.Clock
	metrics    *metrics.Collector
	logger     *slog.Logger

	onClose func(*Session)

	done     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
}

// NewManager creates a manager and starts its expiry loop.
func NewManager(cfg *Config, opts ...ManagerOption) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		config:   cfg.Clone(),
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session_manager")
	if m.dispatcher == nil {
		m.dispatcher = rpc.NewDispatcher(m.logger)
	}

	if m.config.HeartbeatTimeout > 0 && m.config.CheckInterval > 0 {
		go m.expiryLoop()
	} else {
		close(m.loopDone)
	}
	return m
}

// SetOnSessionClose sets a callback run after a session is closed.
func (m *Manager) SetOnSessionClose(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

// Create creates a session and runs the init function on it.
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	if m.config.MaxSessions > 0 && len(m.sessions)+m.pending >= m.config.MaxSessions {
		m.mu.Unlock()
		return nil, ErrMaxSessionsReached
	}
	m.pending++
	m.mu.Unlock()

	opts := []Option{
		WithDispatcher(m.dispatcher),
		WithClock(m.clock),
		WithLogger(m.logger),
	}
	if m.metrics != nil {
		opts = append(opts, WithPushObserver(m.metrics), WithRPCObserver(m.metrics))
	}
	s := New(uuid.NewString(), m.config, opts...)

	if m.init != nil {
		if err := s.initialize(m.init); err != nil {
			m.mu.Lock()
			m.pending--
			m.mu.Unlock()
			s.Close()
			return nil, fmt.Errorf("session: init: %w", err)
		}
	}

	m.mu.Lock()
	m.pending--
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.metrics.SessionCreated()
	m.logger.Info("session created", "session_id", s.id)
	return s, nil
}

// Get returns the live session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close closes and removes a session.
func (m *Manager) Close(id string) {
	m.close(id, false)
}

func (m *Manager) close(id string, expired bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	onClose := m.onClose
	m.mu.Unlock()
	if !ok {
		return
	}

	s.Close()
	m.metrics.SessionClosed(expired)
	if onClose != nil {
		onClose(s)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ForEach calls fn for every live session until fn returns false.
func (m *Manager) ForEach(fn func(*Session) bool) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if !fn(s) {
			return
		}
	}
}

func (m *Manager) expiryLoop() {
	defer close(m.loopDone)

	ticker := m.clock.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.Chan():
			m.ExpireStale()
		}
	}
}

// ExpireStale closes every session whose last heartbeat is older than the
// heartbeat timeout and returns how many were closed.
func (m *Manager) ExpireStale() int {
	if m.config.HeartbeatTimeout <= 0 {
		return 0
	}
	cutoff := m.clock.Now().Add(-m.config.HeartbeatTimeout)

	var stale []string
	m.ForEach(func(s *Session) bool {
		if s.LastHeartbeat().Before(cutoff) {
			stale = append(stale, s.id)
		}
		return true
	})

	for _, id := range stale {
		m.logger.Info("session heartbeat expired", "session_id", id)
		m.close(id, true)
	}
	return len(stale)
}

// Shutdown stops the expiry loop and closes every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.done) })

	select {
	case <-m.loopDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.close(id, false)
	}
	return nil
}

// Stats reports manager statistics.
type Stats struct {
	Active           int
	OldestHeartbeat  time.Time
	HeartbeatTimeout time.Duration
}

// Stats returns a snapshot of manager statistics.
func (m *Manager) Stats() Stats {
	st := Stats{HeartbeatTimeout: m.config.HeartbeatTimeout}
	m.ForEach(func(s *Session) bool {
		st.Active++
		hb := s.LastHeartbeat()
		if st.OldestHeartbeat.IsZero() || hb.Before(st.OldestHeartbeat) {
			st.OldestHeartbeat = hb
		}
		return true
	})
	return st
}
