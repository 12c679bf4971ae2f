package cached

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultKeyPrefix = "dropmail:entry:"
	DefaultTTL       = 10 * time.Minute
)

// options holds cached store configuration.
type options struct {
	keyPrefix string
	ttl       time.Duration
	logger    *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		keyPrefix: DefaultKeyPrefix,
		ttl:       DefaultTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the cached store.
type Option func(*options)

// WithKeyPrefix sets the Redis key prefix for cached entries.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithTTL sets the upper bound on how long an entry stays cached.
// An entry is never cached past its message's expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
