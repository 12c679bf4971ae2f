// Package sqlite provides an embedded single-file implementation of store.Store.
//
// Timestamps are stored as Unix milliseconds and address lists as JSON
// arrays. The database runs in WAL mode with immediate write transactions,
// and the pool is limited to one connection so writers never see
// SQLITE_BUSY.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rbaliyan/dropmail/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using SQLite.
type Store struct {
	db        atomic.Pointer[sqlx.DB]
	path      string // set by Open; the store owns and reopens the db
	opts      *options
	connected int32
	dbClosed  int32 // Close closed an owned db
	logger    *slog.Logger
}

// New creates a store over an existing connection. The caller owns db.
// Call Connect() to initialize the schema.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	s := &Store{
		opts:   o,
		logger: o.logger,
	}
	if db != nil {
		s.db.Store(db)
	}
	return s
}

// Open opens (creating if needed) the database file at path. The returned
// store owns the connection: Close closes it and a later Connect reopens it.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := New(db, opts...)
	s.path = path
	return s, nil
}

func openDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// DSN returns the connection string used by Open for path.
func DSN(path string) string {
	q := url.Values{}
	q.Set("_busy_timeout", "5000")
	q.Set("_journal_mode", "WAL")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) conn() *sqlx.DB { return s.db.Load() }

func (s *Store) ownsDB() bool { return s.path != "" }

// Connect initializes the schema. A store created by Open reopens its
// database file if an earlier Close closed it.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if atomic.LoadInt32(&s.dbClosed) == 1 {
		db, err := openDB(s.path)
		if err != nil {
			atomic.StoreInt32(&s.connected, 0)
			return err
		}
		s.db.Store(db)
		atomic.StoreInt32(&s.dbClosed, 0)
	}

	db := s.conn()
	if db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("sqlite: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("sqlite ping: %w", err)
	}

	for _, ddl := range schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			atomic.StoreInt32(&s.connected, 0)
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	s.logger.Info("connected to SQLite", "path", s.path)
	return nil
}

// Close marks the store as disconnected and closes the database if the
// store opened it.
func (s *Store) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 1, 0) {
		return nil
	}
	if !s.ownsDB() {
		return nil
	}
	atomic.StoreInt32(&s.dbClosed, 1)
	return s.conn().Close()
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL DEFAULT '',
		from_addrs TEXT NOT NULL DEFAULT '[]',
		to_addrs TEXT NOT NULL DEFAULT '[]',
		text_body TEXT NOT NULL DEFAULT '',
		html_body TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inbox_entries (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		address TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_expires ON messages(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_address ON inbox_entries(address, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_message ON inbox_entries(message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_created ON inbox_entries(created_at)`,
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// =============================================================================
// Maintenance Operations
// =============================================================================

// DeleteExpired atomically deletes all messages with expires_at <= now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.conn().ExecContext(ctx, `DELETE FROM messages WHERE expires_at <= ?`, millis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return rowsAffected(result)
}

// DeleteOrphans deletes entries created at or before cutoff whose message is gone.
func (s *Store) DeleteOrphans(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.conn().ExecContext(ctx, `
		DELETE FROM inbox_entries
		WHERE created_at <= ?
		  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.id = inbox_entries.message_id)
	`, millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete orphans: %w", err)
	}
	return rowsAffected(result)
}

func rowsAffected(result sql.Result) (int64, error) {
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
