package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/vango-dev/syncore/internal/errors"
	"github.com/vango-dev/syncore/pkg/bundle"
	"github.com/vango-dev/syncore/pkg/metrics"
	"github.com/vango-dev/syncore/pkg/push"
	"github.com/vango-dev/syncore/pkg/server"
	"github.com/vango-dev/syncore/pkg/session"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "syncore.json"

	// EnvPrefix prefixes environment overrides, e.g. SYNCORE_SERVER_ADDRESS.
	EnvPrefix = "SYNCORE"

	// DefaultAddress is the default HTTP listen address.
	DefaultAddress = ":8080"

	// DefaultMetricsAddress is the default metrics listen address.
	DefaultMetricsAddress = ":9090"
)

// Bundle source kinds.
const (
	SourceDir = "dir"
	SourceS3  = "s3"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config represents the complete syncore.json configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" json:"server"`
	Push    PushConfig    `mapstructure:"push" json:"push"`
	Bundles BundlesConfig `mapstructure:"bundles" json:"bundles"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics"`
	Log     LogConfig     `mapstructure:"log" json:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Address is the listen address.
	Address string `mapstructure:"address" json:"address"`

	// AllowedOrigins lists CORS origins. Empty allows all.
	AllowedOrigins []string `mapstructure:"allowedOrigins" json:"allowedOrigins,omitempty"`

	ReadBufferSize  int `mapstructure:"readBufferSize" json:"readBufferSize"`
	WriteBufferSize int `mapstructure:"writeBufferSize" json:"writeBufferSize"`

	// MessageRate is inbound frames per second per connection; 0 is unlimited.
	MessageRate  float64 `mapstructure:"messageRate" json:"messageRate"`
	MessageBurst int     `mapstructure:"messageBurst" json:"messageBurst"`

	// MaxSessions limits live sessions; 0 is unlimited.
	MaxSessions int `mapstructure:"maxSessions" json:"maxSessions"`
}

// PushConfig contains push settings.
type PushConfig struct {
	// Mode is "disabled", "manual" or "automatic".
	Mode string `mapstructure:"mode" json:"mode"`

	// Transport is "websocket", "long-polling" or empty for both.
	Transport string `mapstructure:"transport" json:"transport,omitempty"`

	// HeartbeatInterval is how often clients send heartbeats.
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval" json:"heartbeatInterval"`

	// HeartbeatTimeout expires sessions without a heartbeat; 0 disables.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeatTimeout" json:"heartbeatTimeout"`
}

// BundlesConfig contains bundle source settings.
type BundlesConfig struct {
	// Source is "dir" or "s3". Empty disables the bundle endpoint.
	Source string `mapstructure:"source" json:"source,omitempty"`

	// Dir is the bundle directory for the dir source.
	Dir string `mapstructure:"dir" json:"dir,omitempty"`

	Bucket   string `mapstructure:"bucket" json:"bucket,omitempty"`
	Prefix   string `mapstructure:"prefix" json:"prefix,omitempty"`
	Region   string `mapstructure:"region" json:"region,omitempty"`
	Endpoint string `mapstructure:"endpoint" json:"endpoint,omitempty"`

	// CacheSize is the number of bundles kept in memory; 0 disables caching.
	CacheSize int `mapstructure:"cacheSize" json:"cacheSize"`

	// List declares the bundles and the type identifiers they provide.
	List []BundleConfig `mapstructure:"list" json:"list,omitempty"`
}

// BundleConfig declares one bundle.
type BundleConfig struct {
	Name        string   `mapstructure:"name" json:"name"`
	Identifiers []string `mapstructure:"identifiers" json:"identifiers"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Address also serves /metrics on a separate listener. Empty serves
	// it on the main server only.
	Address string `mapstructure:"address" json:"address"`

	Namespace string `mapstructure:"namespace" json:"namespace"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `mapstructure:"level" json:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" json:"format"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultAddress,
			ReadBufferSize:  server.DefaultServerConfig().ReadBufferSize,
			WriteBufferSize: server.DefaultServerConfig().WriteBufferSize,
			MessageRate:     server.DefaultServerConfig().MessageRate,
			MessageBurst:    server.DefaultServerConfig().MessageBurst,
		},
		Push: PushConfig{
			Mode:              string(session.PushAutomatic),
			HeartbeatInterval: time.Minute,
			HeartbeatTimeout:  session.DefaultConfig().HeartbeatTimeout,
		},
		Bundles: BundlesConfig{
			CacheSize: 64,
		},
		Metrics: MetricsConfig{
			Address:   DefaultMetricsAddress,
			Namespace: "syncore",
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatText,
		},
	}
}

// setDefaults registers every key so environment overrides apply even
// when the file omits it.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("server.address", c.Server.Address)
	v.SetDefault("server.allowedOrigins", c.Server.AllowedOrigins)
	v.SetDefault("server.readBufferSize", c.Server.ReadBufferSize)
	v.SetDefault("server.writeBufferSize", c.Server.WriteBufferSize)
	v.SetDefault("server.messageRate", c.Server.MessageRate)
	v.SetDefault("server.messageBurst", c.Server.MessageBurst)
	v.SetDefault("server.maxSessions", c.Server.MaxSessions)

	v.SetDefault("push.mode", c.Push.Mode)
	v.SetDefault("push.transport", c.Push.Transport)
	v.SetDefault("push.heartbeatInterval", c.Push.HeartbeatInterval)
	v.SetDefault("push.heartbeatTimeout", c.Push.HeartbeatTimeout)

	v.SetDefault("bundles.source", c.Bundles.Source)
	v.SetDefault("bundles.dir", c.Bundles.Dir)
	v.SetDefault("bundles.bucket", c.Bundles.Bucket)
	v.SetDefault("bundles.prefix", c.Bundles.Prefix)
	v.SetDefault("bundles.region", c.Bundles.Region)
	v.SetDefault("bundles.endpoint", c.Bundles.Endpoint)
	v.SetDefault("bundles.cacheSize", c.Bundles.CacheSize)

	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.address", c.Metrics.Address)
	v.SetDefault("metrics.namespace", c.Metrics.Namespace)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
}

// Load reads configuration from path on the OS filesystem. See LoadFs.
func Load(path string) (*Config, error) {
	return LoadFs(afero.NewOsFs(), path)
}

// LoadFs reads configuration from fsys. An empty path looks for
// syncore.json in the working directory and falls back to defaults when
// there is none; an explicit path must exist. SYNCORE_* environment
// variables override file values.
func LoadFs(fsys afero.Fs, path string) (*Config, error) {
	cfg := New()

	v := viper.New()
	v.SetFs(fsys)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, errors.New("S501").WithMessagef("reading %s", displayPath(path)).Wrap(err)
		}
	} else {
		cfg.configPath = v.ConfigFileUsed()
	}

	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(hook)); err != nil {
		return nil, errors.New("S501").WithMessagef("decoding %s", displayPath(path)).Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func displayPath(path string) string {
	if path == "" {
		return ConfigFileName
	}
	return path
}

// Path returns the path where the config was loaded from, or "" when
// only defaults and the environment were used.
func (c *Config) Path() string {
	return c.configPath
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New("S502").WithMessagef(format, args...)
	}
	if c.Server.Address == "" {
		return invalid("server.address is empty")
	}
	if c.Server.MessageRate < 0 || c.Server.MessageBurst < 0 {
		return invalid("server.messageRate and server.messageBurst must not be negative")
	}
	if c.Server.MessageRate > 0 && c.Server.MessageBurst == 0 {
		return invalid("server.messageBurst must be positive when server.messageRate is set")
	}
	if _, err := session.ParsePushMode(c.Push.Mode); err != nil {
		return invalid("push.mode: %v", err)
	}
	switch push.Transport(c.Push.Transport) {
	case "", push.TransportWebSocket, push.TransportLongPolling:
	default:
		return invalid("push.transport %q is not websocket or long-polling", c.Push.Transport)
	}
	if c.Push.HeartbeatInterval < 0 || c.Push.HeartbeatTimeout < 0 {
		return invalid("push heartbeat durations must not be negative")
	}
	if c.Push.HeartbeatTimeout > 0 && c.Push.HeartbeatInterval >= c.Push.HeartbeatTimeout {
		return invalid("push.heartbeatInterval %s must be shorter than push.heartbeatTimeout %s",
			c.Push.HeartbeatInterval, c.Push.HeartbeatTimeout)
	}
	switch c.Bundles.Source {
	case "":
	case SourceDir:
		if c.Bundles.Dir == "" {
			return invalid("bundles.dir is required for the dir source")
		}
	case SourceS3:
		if c.Bundles.Bucket == "" {
			return invalid("bundles.bucket is required for the s3 source")
		}
	default:
		return invalid("bundles.source %q is not dir or s3", c.Bundles.Source)
	}
	if c.Bundles.CacheSize < 0 {
		return invalid("bundles.cacheSize must not be negative")
	}
	seen := make(map[string]bool, len(c.Bundles.List))
	for _, b := range c.Bundles.List {
		if !bundle.ValidName(b.Name) {
			return invalid("bundle name %q is invalid", b.Name)
		}
		if seen[b.Name] {
			return invalid("bundle %q declared twice", b.Name)
		}
		seen[b.Name] = true
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	switch c.Log.Format {
	case FormatText, FormatJSON:
	default:
		return invalid("log.format %q is not text or json", c.Log.Format)
	}
	return nil
}

// ServerOptions returns the HTTP server configuration.
func (c *Config) ServerOptions() *server.ServerConfig {
	cfg := server.DefaultServerConfig()
	cfg.Address = c.Server.Address
	cfg.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	cfg.Transport = push.Transport(c.Push.Transport)
	if c.Server.ReadBufferSize > 0 {
		cfg.ReadBufferSize = c.Server.ReadBufferSize
	}
	if c.Server.WriteBufferSize > 0 {
		cfg.WriteBufferSize = c.Server.WriteBufferSize
	}
	cfg.MessageRate = c.Server.MessageRate
	cfg.MessageBurst = c.Server.MessageBurst
	return cfg
}

// SessionOptions returns the session manager configuration.
func (c *Config) SessionOptions() *session.Config {
	cfg := session.DefaultConfig()
	// Validated in Load.
	cfg.PushMode, _ = session.ParsePushMode(c.Push.Mode)
	cfg.HeartbeatTimeout = c.Push.HeartbeatTimeout
	if c.Push.HeartbeatInterval > 0 && c.Push.HeartbeatInterval < cfg.CheckInterval {
		cfg.CheckInterval = c.Push.HeartbeatInterval
	}
	cfg.MaxSessions = c.Server.MaxSessions
	return cfg
}

// MetricsOptions returns the collector options.
func (c *Config) MetricsOptions() []metrics.Option {
	var opts []metrics.Option
	if c.Metrics.Namespace != "" {
		opts = append(opts, metrics.WithNamespace(c.Metrics.Namespace))
	}
	return opts
}

// BundleList returns the declared bundles.
func (c *Config) BundleList() []bundle.Bundle {
	out := make([]bundle.Bundle, 0, len(c.Bundles.List))
	for _, b := range c.Bundles.List {
		out = append(out, bundle.Bundle{
			Name:        b.Name,
			Identifiers: append([]string(nil), b.Identifiers...),
		})
	}
	return out
}

// BundleSource builds the configured bundle source, wrapped in an LRU
// cache when bundles.cacheSize is positive. It returns nil when no
// source is configured.
func (c *Config) BundleSource() (bundle.Source, error) {
	var src bundle.Source
	switch c.Bundles.Source {
	case "":
		return nil, nil
	case SourceDir:
		src = bundle.NewFSSource(c.Bundles.Dir)
	case SourceS3:
		client := bundle.NewS3Client(bundle.S3Config{
			Region:       c.Bundles.Region,
			Endpoint:     c.Bundles.Endpoint,
			UsePathStyle: c.Bundles.Endpoint != "",
		})
		src = bundle.NewS3Source(client, c.Bundles.Bucket, c.Bundles.Prefix)
	default:
		return nil, errors.New("S502").WithMessagef("bundles.source %q is not dir or s3", c.Bundles.Source)
	}
	if c.Bundles.CacheSize == 0 {
		return src, nil
	}
	cached, err := bundle.NewCachedSource(src, c.Bundles.CacheSize)
	if err != nil {
		return nil, errors.New("S502").Wrap(err)
	}
	return cached, nil
}

// NewLogger returns a logger writing to w with the configured level and
// format.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.New("S502").WithMessagef("log.level").Wrap(err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch c.Log.Format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case FormatText, "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, errors.New("S502").WithMessagef("log.format %q is not text or json", c.Log.Format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}
