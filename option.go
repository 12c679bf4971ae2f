package dropmail

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/dropmail/store"
)

// Default configuration values.
const (
	DefaultRetention        = 72 * time.Hour   // 3 days
	DefaultSweepInterval    = 2 * time.Hour    // scheduled reaper period
	DefaultSweepProbability = 0.05             // chance an insert triggers a sweep
	DefaultShutdownTimeout  = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout      = 1 * time.Second  // minimum shutdown timeout

	// Default email limits
	DefaultMaxSubjectLength  = 998              // RFC 5322 max line length
	DefaultMaxBodySize       = 10 * 1024 * 1024 // 10 MB, text and HTML combined
	DefaultMaxRecipientCount = 100              // max To entries per email

	// Concurrency limits
	DefaultMaxConcurrentInserts = 10 // max concurrent inserts per service
)

// options holds service configuration.
type options struct {
	store  store.Store
	logger *slog.Logger

	plugins []Plugin

	// Retention and reclamation
	retention        time.Duration
	sweepInterval    time.Duration
	sweepProbability float64
	clock            func() time.Time
	random           func() float64

	// Email limits
	maxSubjectLength  int
	maxBodySize       int
	maxRecipientCount int

	// Listing
	maxListResults int

	// Concurrency limits
	maxConcurrentInserts int

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool                    // If true, event publishing failures cause operation to fail
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional, uses noop if nil)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "EmailReceived"), and err is the publish error.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
// If the callback panics, the panic is logged and suppressed to prevent cascading failures.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:           slog.Default(),
		retention:        DefaultRetention,
		sweepInterval:    DefaultSweepInterval,
		sweepProbability: DefaultSweepProbability,
		clock:            time.Now,
		random:           rand.Float64,
		// Email limits defaults
		maxSubjectLength:  DefaultMaxSubjectLength,
		maxBodySize:       DefaultMaxBodySize,
		maxRecipientCount: DefaultMaxRecipientCount,
		// Concurrency limits defaults
		maxConcurrentInserts: DefaultMaxConcurrentInserts,
		// Shutdown defaults
		shutdownTimeout: DefaultShutdownTimeout,
		serviceName:     "dropmail",
	}
	for _, opt := range opts {
		opt(o)
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// --- Plugin/Extension Options ---

// WithPlugin registers a plugin with the service.
// Multiple plugins can be registered by calling this option multiple times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- Retention Options ---

// WithRetention sets how long an email stays visible after it is inserted.
// Default is 72 hours. Non-positive values are ignored.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithSweepInterval sets how often the background reaper runs.
// Default is 2 hours. Zero disables the schedule; negative values are ignored.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.sweepInterval = d
		}
	}
}

// WithSweepProbability sets the chance in [0, 1] that a successful insert
// starts an out-of-band sweep. Default is 0.05. Zero disables it.
func WithSweepProbability(p float64) Option {
	return func(o *options) {
		switch {
		case p < 0:
			o.sweepProbability = 0
		case p > 1:
			o.sweepProbability = 1
		default:
			o.sweepProbability = p
		}
	}
}

// WithClock sets the time source used for creation, expiry and visibility.
// Default is time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithRandom sets the [0, 1) source consulted for sweep-on-insert.
func WithRandom(f func() float64) Option {
	return func(o *options) {
		if f != nil {
			o.random = f
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// When enabled, spans are created for all service operations.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for telemetry and event bus naming.
// Default is "dropmail".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Email Limit Options ---

// WithMaxBodySize sets the maximum combined text and HTML size in bytes.
// Default is 10 MB.
func WithMaxBodySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodySize = n
		}
	}
}

// WithMaxRecipients sets the maximum number of To entries per email.
// Default is 100.
func WithMaxRecipients(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRecipientCount = n
		}
	}
}

// WithMaxSubjectLength sets the maximum subject length in characters.
// Default is 998 (RFC 5322 max line length).
func WithMaxSubjectLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSubjectLength = n
		}
	}
}

// --- Listing Options ---

// WithMaxListResults caps how many summaries GetEmailsForAddress returns.
// Zero (the default) means unlimited.
func WithMaxListResults(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxListResults = n
		}
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentInserts sets the maximum number of concurrent inserts.
// Default is 10.
func WithMaxConcurrentInserts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentInserts = n
		}
	}
}

// WithShutdownTimeout sets the maximum time Close() waits for in-flight
// inserts and background sweeps.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures should
// cause the operation to fail. By default, event failures are logged but
// the operation succeeds (the email is still stored).
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport for publishing and subscribing.
// If not provided, a noop transport is used (events are silently dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport.
// When provided, events are published to Redis Streams.
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing failures.
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}

// getLimits returns the configured email limits.
func (o *options) getLimits() Limits {
	return Limits{
		MaxSubjectLength:  o.maxSubjectLength,
		MaxBodySize:       o.maxBodySize,
		MaxRecipientCount: o.maxRecipientCount,
	}
}

// now returns the service clock truncated to milliseconds, the precision
// every backend can store.
func (o *options) now() time.Time {
	return o.clock().UTC().Truncate(time.Millisecond)
}
