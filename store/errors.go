package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when an entry cannot be found or is no longer visible.
	ErrNotFound = errors.New("store: not found")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrTransactionFailed is returned when a database transaction fails.
	// This indicates the atomic operation could not complete and no changes were made.
	ErrTransactionFailed = errors.New("store: transaction failed")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

func IsTransactionFailed(err error) bool {
	return errors.Is(err, ErrTransactionFailed)
}
