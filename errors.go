package dropmail

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/dropmail/store"
)

// Sentinel errors for the dropmail package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, dropmail.ErrNotFound) will match both service-level
// and store-level "not found" errors.
var (
	// ErrNotFound is returned when an inbox entry does not exist or has expired.
	// Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("dropmail: %w", store.ErrNotFound)

	// ErrInvalidEmail is returned for email validation failures.
	ErrInvalidEmail = errors.New("dropmail: invalid email")

	// ErrEmptyRecipients is returned when an email has no To list at all.
	ErrEmptyRecipients = errors.New("dropmail: empty recipients")

	// ErrTooManyRecipients is returned when recipient count exceeds the limit.
	ErrTooManyRecipients = errors.New("dropmail: too many recipients")

	// ErrSubjectTooLong is returned when subject exceeds maximum length.
	ErrSubjectTooLong = errors.New("dropmail: subject too long")

	// ErrBodyTooLarge is returned when text plus HTML body exceeds maximum size.
	ErrBodyTooLarge = errors.New("dropmail: body too large")

	// ErrInvalidContent is returned when a field contains invalid characters.
	ErrInvalidContent = errors.New("dropmail: invalid content")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("dropmail: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("dropmail: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("dropmail: %w", store.ErrAlreadyConnected)
)

// ValidationError provides details about a validation failure.
// It matches ErrInvalidEmail and, when set, the more specific Err.
type ValidationError struct {
	Field   string // The field that failed validation
	Message string // Human-readable error message
	Err     error  // Specific sentinel, e.g. ErrEmptyRecipients
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dropmail: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidEmail}
	}
	return []error{ErrInvalidEmail, e.Err}
}

// StorageError wraps a backend failure (I/O, timeout, transaction abort).
// Storage errors are transient: the operation may be retried. Retrying an
// insert is not idempotent and may store the email twice.
type StorageError struct {
	Op  string // The operation that failed, e.g. "insert"
	Err error  // The underlying backend error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("dropmail: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Retryable reports that storage failures can be retried.
func (e *StorageError) Retryable() bool {
	return true
}

// EventPublishError is returned when event publishing fails but the operation
// succeeded. Only surfaced when WithEventErrorsFatal(true) is set.
type EventPublishError struct {
	Event string // The event name
	ID    string // The entry or message ID the event was for
	Err   error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("dropmail: event %s publish failed for %s: %v", e.Event, e.ID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and returns details.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}

// IsRetryableError determines if an error is retryable.
// Returns true for temporary/transient errors, false for permanent errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Permanent errors that should not be retried
	permanentErrors := []error{
		ErrInvalidEmail,
		ErrNotFound,
		ErrStoreRequired,
		ErrAlreadyConnected,
		store.ErrNotFound,
		context.Canceled,
	}
	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable()
	}

	// Retryable errors
	retryableErrors := []error{
		ErrNotConnected,            // Connection can be re-established
		store.ErrNotConnected,      // Store connection can be re-established
		store.ErrTransactionFailed, // Transaction can be retried
		context.DeadlineExceeded,   // Backend was slow
	}
	for _, retryErr := range retryableErrors {
		if errors.Is(err, retryErr) {
			return true
		}
	}

	// For unknown errors, default to retryable (conservative approach)
	// as they might be transient network/timeout issues
	return true
}

// storageErr maps a store error onto the service error space.
func storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrNotConnected):
		return ErrNotConnected
	default:
		return &StorageError{Op: op, Err: err}
	}
}
