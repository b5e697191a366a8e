// Package store owns the shared SQLite progress database: opening it,
// keeping its schema current, and the error/retry discipline every other
// component builds on. Several independently launched game processes may
// hold the same file open at once; all coordination happens through the
// database itself.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// DefaultBusyTimeout is the SQLite busy handler timeout applied via DSN pragma.
const DefaultBusyTimeout = 5 * time.Second

// DB wraps the process-wide SQLite handle for the progress store.
type DB struct {
	sql *sql.DB
	log *slog.Logger
}

// Options tune how the store file is opened.
type Options struct {
	// BusyTimeout bounds how long SQLite itself waits on a locked database
	// before returning SQLITE_BUSY. Zero means DefaultBusyTimeout.
	BusyTimeout time.Duration
	// Logger receives open/migration events. Nil means slog.Default().
	Logger *slog.Logger
}

// Open opens (creating if absent) the progress database at path and applies
// the concurrency pragmas. It does not run migrations; call EnsureReady.
func Open(path string, opts Options) (*DB, error) {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// foreign_keys is per-connection, so it rides the DSN and applies to
	// every connection the pool ever hands out.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection per process keeps every transaction on one SQLite
	// handle, so write transactions never deadlock in-process.
	db.SetMaxOpenConns(1)

	// WAL lets leaderboard readers in other processes run concurrently with
	// a writer. The mode is persistent in the file; setting it again is a
	// no-op.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}

	return &DB{sql: db, log: logger}, nil
}

// Conn exposes the underlying handle for the component packages.
func (d *DB) Conn() *sql.DB { return d.sql }

// Close closes the database handle.
func (d *DB) Close() error { return d.sql.Close() }

// Retry runs fn, retrying with exponential backoff while it fails with a
// SQLITE_BUSY class error. Logical errors are returned immediately. Once ctx
// expires or maxElapsed passes, the last busy failure surfaces as ErrStoreBusy.
func Retry(ctx context.Context, maxElapsed time.Duration, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = maxElapsed

	err := backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if IsBusyErr(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))

	if err != nil && IsBusyErr(err) {
		return fmt.Errorf("store: contention deadline exceeded: %w", ErrStoreBusy)
	}
	return err
}
