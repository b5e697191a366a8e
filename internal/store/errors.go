package store

import (
	"errors"
	"strings"
)

// Failure taxonomy shared by every component that touches the store.
// Callers test with errors.Is; the concrete message carries context.
var (
	// ErrNotFound indicates a referenced user, game, or achievement is absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidValue indicates caller-supplied data violates a domain constraint.
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidRelation indicates a friend-graph transition is not allowed.
	ErrInvalidRelation = errors.New("invalid relation")

	// ErrStoreBusy indicates contention on the store exceeded the retry deadline.
	ErrStoreBusy = errors.New("store busy")

	// ErrStoreCorrupt indicates the on-disk schema is ahead of this build or unreadable.
	ErrStoreCorrupt = errors.New("store corrupt")
)

// IsConstraintErr reports whether err is a SQLite uniqueness/constraint failure.
// modernc sqlite surfaces these as plain errors with "constraint failed"
// messages, so substring matching is the only reliable check.
func IsConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint failed") || strings.Contains(msg, "unique constraint")
}

// IsBusyErr reports whether err is a SQLITE_BUSY/SQLITE_LOCKED class failure
// that may succeed on retry.
func IsBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "busy")
}
