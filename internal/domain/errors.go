package domain

import "errors"

var (
	// ErrSessionNotFound is returned by stores for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when writing to a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrTurnConflict is returned when a turn index was already committed.
	ErrTurnConflict = errors.New("turn already committed")
)
