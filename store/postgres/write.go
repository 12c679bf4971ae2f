package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rbaliyan/dropmail/store"
)

// Insert writes the message and its inbox entries in one transaction.
func (s *Store) Insert(ctx context.Context, msg store.Message, recipients []string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.New().String()
	createdAt := msg.CreatedAt.UTC()

	insertMessage := fmt.Sprintf(`
		INSERT INTO %s (id, subject, from_addrs, to_addrs, text_body, html_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.opts.messagesTable)

	_, err = tx.ExecContext(ctx, insertMessage,
		id, msg.Subject, pq.Array(nonNil(msg.From)), pq.Array(nonNil(msg.To)),
		msg.Text, msg.HTML, createdAt, msg.ExpiresAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	insertEntry := fmt.Sprintf(`
		INSERT INTO %s (id, message_id, address, created_at)
		VALUES ($1, $2, $3, $4)
	`, s.opts.entriesTable)

	for _, addr := range recipients {
		if _, err := tx.ExecContext(ctx, insertEntry, uuid.New().String(), id, addr, createdAt); err != nil {
			return "", fmt.Errorf("insert entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: %w", store.ErrTransactionFailed, err)
	}
	return id, nil
}

// DeleteEntry removes one inbox entry. The message row is left in place.
func (s *Store) DeleteEntry(ctx context.Context, entryID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.opts.entriesTable)

	result, err := s.db.ExecContext(ctx, query, entryID)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
