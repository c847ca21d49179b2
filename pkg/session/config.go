package session

import (
	"fmt"
	"time"

	"github.com/vango-dev/syncore/pkg/protocol"
)

// PushMode controls when server-side changes are pushed.
type PushMode string

const (
	// PushDisabled never pushes; changes reach the client with the next
	// response.
	PushDisabled PushMode = "disabled"

	// PushManual pushes when the application calls UI.Push.
	PushManual PushMode = "manual"

	// PushAutomatic pushes at the end of every Access.
	PushAutomatic PushMode = "automatic"
)

// ParsePushMode parses a push mode name.
func ParsePushMode(s string) (PushMode, error) {
	switch m := PushMode(s); m {
	case PushDisabled, PushManual, PushAutomatic:
		return m, nil
	default:
		return "", fmt.Errorf("session: unknown push mode %q", s)
	}
}

// Config holds session configuration.
type Config struct {
	// PushMode controls when changes are pushed.
	// Default: PushAutomatic.
	PushMode PushMode

	// HeartbeatTimeout closes sessions that have not sent a heartbeat for
	// this long. Zero disables expiry.
	// Default: 5 minutes.
	HeartbeatTimeout time.Duration

	// CheckInterval is the time between expiry checks.
	// Default: 30 seconds.
	CheckInterval time.Duration

	// MaxMessageSize bounds reassembled client messages.
	// Default: protocol.DefaultMaxMessageSize.
	MaxMessageSize int

	// MaxSessions limits live sessions. Zero means unlimited.
	// Default: 0.
	MaxSessions int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PushMode:         PushAutomatic,
		HeartbeatTimeout: 5 * time.Minute,
		CheckInterval:    30 * time.Second,
		MaxMessageSize:   protocol.DefaultMaxMessageSize,
	}
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
