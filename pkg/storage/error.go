package storage

import "errors"

// ErrUnavailable indicates the backing store is unreachable. Fatal for the
// current request; the turn may be partially written and recoverable on
// retry.
var ErrUnavailable = errors.New("storage unavailable")

// ErrActiveSessionExists is returned by CreateSession when the user already
// has an active session.
var ErrActiveSessionExists = errors.New("user already has an active session")

// ErrSessionEnded is returned when appending a turn to an ended session.
var ErrSessionEnded = errors.New("session has ended")

// ErrSessionBusy indicates a concurrent write to the same session.
// Recoverable; the caller retries.
var ErrSessionBusy = errors.New("session has a turn in flight")

// ErrTierRegression is returned when a non-override transition would move a
// turn backward (or sideways) in the Hot→Warm→Cold progression.
var ErrTierRegression = errors.New("tier transitions cannot regress without override")

// NotFoundError is returned when a session or turn doesn't exist.
type NotFoundError struct {
	Kind string // "session" or "turn"
	ID   string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return e.Kind + " not found: " + e.ID
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}
