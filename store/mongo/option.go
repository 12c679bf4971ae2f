package mongo

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultDatabase          = "dropmail"
	DefaultEmailsCollection  = "emails"
	DefaultInboxesCollection = "inboxes"
	DefaultTimeout           = 10 * time.Second
	DefaultOrphanBatchSize   = 1000
)

// options holds MongoDB store configuration.
type options struct {
	database          string
	emailsCollection  string
	inboxesCollection string
	timeout           time.Duration
	orphanBatchSize   int
	logger            *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		database:          DefaultDatabase,
		emailsCollection:  DefaultEmailsCollection,
		inboxesCollection: DefaultInboxesCollection,
		timeout:           DefaultTimeout,
		orphanBatchSize:   DefaultOrphanBatchSize,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a MongoDB store.
type Option func(*options)

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithEmailsCollection sets the collection holding messages.
func WithEmailsCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.emailsCollection = name
		}
	}
}

// WithInboxesCollection sets the collection holding inbox entries.
func WithInboxesCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.inboxesCollection = name
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithOrphanBatchSize sets how many orphaned entries are deleted per round trip.
func WithOrphanBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.orphanBatchSize = n
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
