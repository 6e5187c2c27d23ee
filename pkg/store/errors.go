package store

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness or state conflict (duplicate cron
	// name, concurrent update).
	ErrConflict = errors.New("conflict")

	// ErrSessionClosed indicates a write against a session already in a
	// terminal state.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnavailable indicates the database could not be reached.
	ErrUnavailable = errors.New("store unavailable")
)
