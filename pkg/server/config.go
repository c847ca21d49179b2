package server

import (
	"time"

	"github.com/vango-dev/syncore/pkg/protocol"
	"github.com/vango-dev/syncore/pkg/push"
)

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// AllowedOrigins lists the origins allowed for CORS requests and
	// WebSocket upgrades. Empty allows every origin.
	AllowedOrigins []string

	// Transport restricts push requests to one transport. Empty accepts
	// both WebSocket and long-polling.
	Transport push.Transport

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: protocol.WebSocketBufferSize.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// Timeouts

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// PingInterval is the time between WebSocket pings.
	// Default: 30 seconds.
	PingInterval time.Duration

	// PongTimeout closes a WebSocket connection that has not answered a
	// ping for this long. Must exceed PingInterval.
	// Default: 60 seconds.
	PongTimeout time.Duration

	// LongPollTimeout completes an idle long-polling request with
	// 204 No Content.
	// Default: 30 seconds.
	LongPollTimeout time.Duration

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 5 seconds.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Limits

	// MaxFrameSize is the largest WebSocket frame accepted from a client.
	// Default: protocol.WebSocketBufferSize.
	MaxFrameSize int64

	// MaxRequestSize bounds request bodies of the XHR RPC endpoint.
	// Default: protocol.DefaultMaxMessageSize.
	MaxRequestSize int64

	// SendQueueSize is the number of pushes buffered per WebSocket
	// connection. A full queue fails the push.
	// Default: 64.
	SendQueueSize int

	// MessageRate is the sustained number of inbound frames per second
	// allowed per connection. Zero means unlimited.
	// Default: 50.
	MessageRate float64

	// MessageBurst is the inbound frame burst allowed per connection.
	// Default: 100.
	MessageBurst int
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":8080",
		ReadBufferSize:    protocol.WebSocketBufferSize,
		WriteBufferSize:   4096,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		LongPollTimeout:   30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		MaxFrameSize:      protocol.WebSocketBufferSize,
		MaxRequestSize:    protocol.DefaultMaxMessageSize,
		SendQueueSize:     64,
		MessageRate:       50,
		MessageBurst:      100,
	}
}

// Clone returns a deep copy of the config.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return &clone
}

// withDefaults fills unset fields from DefaultServerConfig.
func (c *ServerConfig) withDefaults() *ServerConfig {
	if c == nil {
		return DefaultServerConfig()
	}
	out := c.Clone()
	defaults := DefaultServerConfig()
	if out.Address == "" {
		out.Address = defaults.Address
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = defaults.ReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = defaults.WriteBufferSize
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	if out.PingInterval == 0 {
		out.PingInterval = defaults.PingInterval
	}
	if out.PongTimeout == 0 {
		out.PongTimeout = defaults.PongTimeout
	}
	if out.LongPollTimeout == 0 {
		out.LongPollTimeout = defaults.LongPollTimeout
	}
	if out.ReadHeaderTimeout == 0 {
		out.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if out.MaxFrameSize == 0 {
		out.MaxFrameSize = defaults.MaxFrameSize
	}
	if out.MaxRequestSize == 0 {
		out.MaxRequestSize = defaults.MaxRequestSize
	}
	if out.SendQueueSize == 0 {
		out.SendQueueSize = defaults.SendQueueSize
	}
	if out.MessageBurst == 0 {
		out.MessageBurst = defaults.MessageBurst
	}
	return out
}
