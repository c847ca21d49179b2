package client

import (
	"time"

	"github.com/vango-dev/syncore/pkg/protocol"
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the server's HTTP base URL, e.g. "http://localhost:8080".
	BaseURL string

	// SessionID resumes an existing session instead of creating one.
	SessionID string

	// HeartbeatInterval is the time between heartbeat requests. Zero
	// disables heartbeats.
	// Default: 1 minute.
	HeartbeatInterval time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ReconnectInitialInterval is the first reconnect delay.
	// Default: 500 milliseconds.
	ReconnectInitialInterval time.Duration

	// ReconnectMaxInterval caps the reconnect delay.
	// Default: 30 seconds.
	ReconnectMaxInterval time.Duration

	// ReconnectMaxElapsed gives up reconnecting after this long. Zero
	// retries until the client is closed.
	// Default: 5 minutes.
	ReconnectMaxElapsed time.Duration

	// MaxFragmentSize is the largest frame written to the server.
	// Default: protocol.MaxFragmentSize.
	MaxFragmentSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval:        time.Minute,
		WriteTimeout:             10 * time.Second,
		ReconnectInitialInterval: 500 * time.Millisecond,
		ReconnectMaxInterval:     30 * time.Second,
		ReconnectMaxElapsed:      5 * time.Minute,
		MaxFragmentSize:          protocol.MaxFragmentSize,
	}
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
