package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/rbaliyan/dropmail/store"
)

// Insert writes the message and its inbox entries in one transaction.
//
// Standalone servers do not support transactions; there the message is
// written first and the entries second. A failure between the two leaves an
// unreachable message that the expiry sweep reclaims.
func (s *Store) Insert(ctx context.Context, msg store.Message, recipients []string) (string, error) {
	if !s.isConnected() {
		return "", store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	email := toEmailDoc(msg)
	entries := make([]any, len(recipients))
	for i, addr := range recipients {
		entries[i] = &inboxDoc{
			ID:        uuid.New().String(),
			EmailID:   email.ID,
			Address:   addr,
			CreatedAt: email.CreatedAt,
		}
	}

	session, err := s.client.StartSession()
	if err != nil {
		// Standalone MongoDB doesn't support sessions - fall back to plain inserts
		return s.insertFallback(ctx, email, entries)
	}
	defer session.EndSession(ctx)

	_, txErr := session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		return nil, s.insertDocs(sessCtx, email, entries)
	})
	if txErr != nil {
		// If transaction failed due to unsupported topology, fall back
		if isTransactionNotSupported(txErr) {
			return s.insertFallback(ctx, email, entries)
		}
		return "", fmt.Errorf("%w: %w", store.ErrTransactionFailed, txErr)
	}
	return email.ID.Hex(), nil
}

// insertFallback performs non-transactional inserts for standalone deployments.
func (s *Store) insertFallback(ctx context.Context, email *emailDoc, entries []any) (string, error) {
	if err := s.insertDocs(ctx, email, entries); err != nil {
		return "", err
	}
	s.logger.Debug("inserted without transaction", "email_id", email.ID.Hex(), "entries", len(entries))
	return email.ID.Hex(), nil
}

func (s *Store) insertDocs(ctx context.Context, email *emailDoc, entries []any) error {
	if _, err := s.emails.InsertOne(ctx, email); err != nil {
		return fmt.Errorf("insert email: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	if _, err := s.inboxes.InsertMany(ctx, entries); err != nil {
		return fmt.Errorf("insert inboxes: %w", err)
	}
	return nil
}

// isTransactionNotSupported checks if the error indicates transactions aren't supported.
func isTransactionNotSupported(err error) bool {
	if err == nil {
		return false
	}
	// MongoDB returns code 263 (OperationNotSupportedInTransaction) or
	// 20 (IllegalOperation: "Transaction numbers are only allowed on...")
	// for standalone servers
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 263 || cmdErr.Code == 20
	}
	return false
}
