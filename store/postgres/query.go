package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/rbaliyan/dropmail/store"
)

// joinedRow is an entry joined with its message.
type joinedRow struct {
	EntryID   string         `db:"entry_id"`
	MessageID string         `db:"message_id"`
	Subject   string         `db:"subject"`
	CreatedAt time.Time      `db:"created_at"`
	ExpiresAt time.Time      `db:"expires_at"`
	From      pq.StringArray `db:"from_addrs"`
	To        pq.StringArray `db:"to_addrs"`
	Text      string         `db:"text_body"`
	HTML      string         `db:"html_body"`
}

func (r *joinedRow) summary() store.Summary {
	sum := store.Summary{
		EntryID:   r.EntryID,
		MessageID: r.MessageID,
		Subject:   r.Subject,
		CreatedAt: r.CreatedAt.UTC(),
		ExpiresAt: r.ExpiresAt.UTC(),
		To:        []string(r.To),
	}
	if len(r.From) > 0 {
		sum.From = r.From[0]
	}
	if sum.To == nil {
		sum.To = []string{}
	}
	return sum
}

// ListByAddress returns the visible entries for address, newest first.
func (s *Store) ListByAddress(ctx context.Context, address string, now time.Time) ([]store.Summary, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	// COLLATE "C" keeps the tie-break byte-ordered regardless of database locale.
	query := fmt.Sprintf(`
		SELECT e.id AS entry_id, m.id AS message_id, m.subject, m.created_at, m.expires_at,
		       m.from_addrs, m.to_addrs
		FROM %s e
		JOIN %s m ON m.id = e.message_id
		WHERE e.address = $1 AND m.expires_at > $2
		ORDER BY m.created_at DESC, e.id COLLATE "C" ASC
	`, s.opts.entriesTable, s.opts.messagesTable)

	var rows []joinedRow
	if err := s.db.SelectContext(ctx, &rows, query, address, now); err != nil {
		return nil, fmt.Errorf("list by address: %w", err)
	}

	out := make([]store.Summary, len(rows))
	for i := range rows {
		out[i] = rows[i].summary()
	}
	return out, nil
}

// GetByEntryID returns one visible entry with its message bodies.
func (s *Store) GetByEntryID(ctx context.Context, entryID string, now time.Time) (*store.Detail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT e.id AS entry_id, m.id AS message_id, m.subject, m.created_at, m.expires_at,
		       m.from_addrs, m.to_addrs, m.text_body, m.html_body
		FROM %s e
		JOIN %s m ON m.id = e.message_id
		WHERE e.id = $1 AND m.expires_at > $2
	`, s.opts.entriesTable, s.opts.messagesTable)

	var row joinedRow
	if err := s.db.GetContext(ctx, &row, query, entryID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return &store.Detail{Summary: row.summary(), Text: row.Text, HTML: row.HTML}, nil
}
