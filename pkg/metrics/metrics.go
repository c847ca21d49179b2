// Package metrics provides Prometheus collectors for the push and sync core.
//
// A Collector is created per process (or per test) and handed to the
// components it observes; it is never a package-level singleton. All
// methods are safe on a nil *Collector, so components can keep an optional
// collector without nil checks.
//
// Metrics (namespace "syncore" by default):
//   - pushes_total{transport,kind}: pushes sent, kind ∈ async|response
//   - pushes_deferred_total{state}: pushes recorded while disconnected
//   - push_bytes: size of sent push messages
//   - push_errors_total{transport}: failed pushes
//   - messages_received_total{transport,fragmented}: complete client messages
//   - rpc_total{interface,status}: dispatched server RPC invocations
//   - rpc_duration_seconds{interface}: dispatch duration
//   - bundle_loads_total{bundle,status}: finished bundle loads
//   - active_sessions: live sessions
//   - sessions_expired_total: sessions closed by heartbeat expiry
//   - websocket_errors_total{type}: WebSocket transport errors
//   - rate_limited_total: inbound messages dropped by the rate limiter
//   - reconnects_total: client reconnects
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "syncore").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for RPC duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registerer receives the collectors.
	// Default: prometheus.DefaultRegisterer
	Registerer prometheus.Registerer

	// Gatherer is served by Handler.
	// Default: prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the RPC duration histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry registers the collectors with reg and serves reg from Handler.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registerer = reg
		c.Gatherer = reg
	}
}

func defaultConfig() Config {
	return Config{
		Namespace:  "syncore",
		Buckets:    prometheus.DefBuckets,
		Registerer: prometheus.DefaultRegisterer,
		Gatherer:   prometheus.DefaultGatherer,
	}
}

// Collector holds the Prometheus metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	pushesTotal      *prometheus.CounterVec
	pushesDeferred   *prometheus.CounterVec
	pushBytes        prometheus.Histogram
	pushErrors       *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	rpcTotal         *prometheus.CounterVec
	rpcDuration      *prometheus.HistogramVec
	bundleLoads      *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	sessionsExpired  prometheus.Counter
	wsErrors         *prometheus.CounterVec
	rateLimited      prometheus.Counter
	reconnectsTotal  prometheus.Counter
}

// New creates and registers a Collector.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registerer)

	counterOpts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}

	return &Collector{
		gatherer: config.Gatherer,

		pushesTotal: factory.NewCounterVec(
			counterOpts("pushes_total", "Total number of push messages sent"),
			[]string{"transport", "kind"}),

		pushesDeferred: factory.NewCounterVec(
			counterOpts("pushes_deferred_total", "Pushes recorded while no transport was attached"),
			[]string{"state"}),

		pushBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "push_bytes",
			Help:        "Size of sent push messages in bytes",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}),

		pushErrors: factory.NewCounterVec(
			counterOpts("push_errors_total", "Total number of failed pushes"),
			[]string{"transport"}),

		messagesReceived: factory.NewCounterVec(
			counterOpts("messages_received_total", "Complete client messages received"),
			[]string{"transport", "fragmented"}),

		rpcTotal: factory.NewCounterVec(
			counterOpts("rpc_total", "Total number of dispatched RPC invocations"),
			[]string{"interface", "status"}),

		rpcDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "rpc_duration_seconds",
			Help:        "RPC dispatch duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"interface"}),

		bundleLoads: factory.NewCounterVec(
			counterOpts("bundle_loads_total", "Finished bundle loads"),
			[]string{"bundle", "status"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of live sessions",
			ConstLabels: config.ConstLabels,
		}),

		sessionsExpired: factory.NewCounter(
			counterOpts("sessions_expired_total", "Sessions closed because their heartbeat expired")),

		wsErrors: factory.NewCounterVec(
			counterOpts("websocket_errors_total", "Total WebSocket errors by type"),
			[]string{"type"}),

		rateLimited: factory.NewCounter(
			counterOpts("rate_limited_total", "Inbound messages dropped by the rate limiter")),

		reconnectsTotal: factory.NewCounter(
			counterOpts("reconnects_total", "Total number of client reconnects")),
	}
}

// Handler serves the collector's gatherer in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// PushSent records a sent push.
func (c *Collector) PushSent(transport string, async, _ bool, size int) {
	if c == nil {
		return
	}
	kind := "response"
	if async {
		kind = "async"
	}
	c.pushesTotal.WithLabelValues(transport, kind).Inc()
	c.pushBytes.Observe(float64(size))
}

// PushDeferred records a push recorded while disconnected.
func (c *Collector) PushDeferred(state string) {
	if c == nil {
		return
	}
	c.pushesDeferred.WithLabelValues(state).Inc()
}

// PushFailed records a failed push.
func (c *Collector) PushFailed(transport string) {
	if c == nil {
		return
	}
	c.pushErrors.WithLabelValues(transport).Inc()
}

// MessageReceived records a complete client message.
func (c *Collector) MessageReceived(transport string, fragmented bool) {
	if c == nil {
		return
	}
	c.messagesReceived.WithLabelValues(transport, strconv.FormatBool(fragmented)).Inc()
}

// RPCDispatched records one dispatched invocation.
func (c *Collector) RPCDispatched(iface string, d time.Duration, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.rpcTotal.WithLabelValues(iface, status).Inc()
	c.rpcDuration.WithLabelValues(iface).Observe(d.Seconds())
}

// BundleLoaded records a successful bundle load.
func (c *Collector) BundleLoaded(name string) {
	if c == nil {
		return
	}
	c.bundleLoads.WithLabelValues(name, "loaded").Inc()
}

// BundleFailed records a failed bundle load.
func (c *Collector) BundleFailed(name string) {
	if c == nil {
		return
	}
	c.bundleLoads.WithLabelValues(name, "error").Inc()
}

// SessionCreated records a new session.
func (c *Collector) SessionCreated() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

// SessionClosed records a closed session.
func (c *Collector) SessionClosed(expired bool) {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
	if expired {
		c.sessionsExpired.Inc()
	}
}

// WebSocketError records a WebSocket error.
func (c *Collector) WebSocketError(errorType string) {
	if c == nil {
		return
	}
	c.wsErrors.WithLabelValues(errorType).Inc()
}

// RateLimited records a dropped inbound message.
func (c *Collector) RateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}

// Reconnect records a client reconnect.
func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnectsTotal.Inc()
}
