package demo

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vango-dev/syncore/pkg/session"
)

// ClockFormat is the layout of the clock label.
const ClockFormat = time.TimeOnly

// Clock updates the clock label of every session from a background
// goroutine, exercising server-initiated pushes.
type Clock struct {
	sessions *session.Manager
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

// ClockOption configures a Clock.
type ClockOption func(*Clock)

// WithClockSource sets the time source. Tests use a fake clock.
func WithClockSource(c clockwork.Clock) ClockOption {
	return func(k *Clock) {
		k.clock = c
	}
}

// WithClockLogger sets the logger.
func WithClockLogger(l *slog.Logger) ClockOption {
	return func(k *Clock) {
		k.logger = l
	}
}

// NewClock creates a clock ticking every interval.
func NewClock(sessions *session.Manager, interval time.Duration, opts ...ClockOption) *Clock {
	k := &Clock{
		sessions: sessions,
		interval: interval,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.logger = k.logger.With("component", "demo_clock")
	return k
}

// Run ticks until ctx is done.
func (k *Clock) Run(ctx context.Context) error {
	ticker := k.clock.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.Chan():
			k.Tick(now)
		}
	}
}

// Tick sets every session's clock to now and returns the number of
// sessions updated.
func (k *Clock) Tick(now time.Time) int {
	text := now.Format(ClockFormat)
	updated := 0
	k.sessions.ForEach(func(s *session.Session) bool {
		err := s.Access(func(ui *session.UI) error {
			root, ok := App(ui)
			if !ok {
				return nil
			}
			root.Clock.State.Text = text
			ui.MarkDirty(root.Clock)
			if s.Mode() == session.PushManual {
				return ui.Push()
			}
			return nil
		})
		switch {
		case err == nil:
			updated++
		case stderrors.Is(err, session.ErrSessionClosed):
		default:
			k.logger.Debug("clock push failed", "session_id", s.ID(), "error", err)
		}
		return true
	})
	return updated
}
