package postgres

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultMessagesTable = "messages"
	DefaultEntriesTable  = "inbox_entries"
	DefaultTimeout       = 10 * time.Second
)

// options holds PostgreSQL store configuration.
type options struct {
	messagesTable string
	entriesTable  string
	timeout       time.Duration
	logger        *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		messagesTable: DefaultMessagesTable,
		entriesTable:  DefaultEntriesTable,
		timeout:       DefaultTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a PostgreSQL store.
type Option func(*options)

// WithMessagesTable sets the table holding messages.
func WithMessagesTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.messagesTable = name
		}
	}
}

// WithEntriesTable sets the table holding inbox entries.
func WithEntriesTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.entriesTable = name
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

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
