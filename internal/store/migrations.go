package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Migrations are strictly ordered; each step runs in its own transaction and
// bumps schema_version atomically with its DDL. Table and column names are a
// compatibility contract for external SQL clients: renames require a new step.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "users and scores",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				handle TEXT NOT NULL UNIQUE COLLATE NOCASE,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS scores (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				game_id TEXT NOT NULL,
				value REAL NOT NULL,
				achieved_at TIMESTAMP NOT NULL,
				FOREIGN KEY (user_id) REFERENCES users(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scores_game_value ON scores(game_id, value DESC, achieved_at ASC)`,
			`CREATE INDEX IF NOT EXISTS idx_scores_user_game ON scores(user_id, game_id)`,
		},
	},
	{
		version: 2,
		name:    "achievements",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS achievements (
				key TEXT PRIMARY KEY,
				game_id TEXT,
				description TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS achievement_unlocks (
				user_id INTEGER NOT NULL,
				achievement_key TEXT NOT NULL,
				unlocked_at TIMESTAMP NOT NULL,
				PRIMARY KEY (user_id, achievement_key),
				FOREIGN KEY (user_id) REFERENCES users(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_unlocks_user ON achievement_unlocks(user_id, unlocked_at DESC)`,
		},
	},
	{
		version: 3,
		name:    "friend relations",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS friend_relations (
				user_low INTEGER NOT NULL,
				user_high INTEGER NOT NULL,
				requested_by INTEGER NOT NULL,
				blocked_by INTEGER,
				status TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				PRIMARY KEY (user_low, user_high),
				CHECK (user_low < user_high),
				FOREIGN KEY (user_low) REFERENCES users(id),
				FOREIGN KEY (user_high) REFERENCES users(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_friends_high ON friend_relations(user_high, status)`,
		},
	},
}

const (
	migrationLockName = "schema"
	// migrationLockTTL guards against a migrating process that died while
	// holding the lock. A healthy migration finishes in well under this.
	migrationLockTTL = 30 * time.Second
)

// SchemaVersion returns the latest schema version this build understands.
func SchemaVersion() int { return migrations[len(migrations)-1].version }

// EnsureReady makes the store usable: it bootstraps the version and lock
// tables, then applies any pending migrations while holding the cross-process
// migration lock. Safe to call from any number of processes concurrently;
// exactly one performs each pending step, the rest wait and observe the
// final version. Idempotent.
func (d *DB) EnsureReady(ctx context.Context) error {
	if err := d.bootstrap(ctx); err != nil {
		return err
	}

	current, err := d.currentVersion(ctx)
	if err != nil {
		return err
	}
	latest := SchemaVersion()
	if current > latest {
		return fmt.Errorf("store: on-disk schema version %d is newer than supported %d: %w",
			current, latest, ErrStoreCorrupt)
	}
	if current == latest {
		return nil
	}

	owner := uuid.New().String()
	err = Retry(ctx, 10*time.Second, func() error {
		return d.tryMigrate(ctx, owner)
	})
	if err != nil {
		return err
	}

	// Re-check: either we migrated or another process did.
	current, err = d.currentVersion(ctx)
	if err != nil {
		return err
	}
	if current != latest {
		return fmt.Errorf("store: schema version %d after migration, want %d: %w",
			current, latest, ErrStoreCorrupt)
	}
	return nil
}

// bootstrap creates the bookkeeping tables every other step depends on.
// Plain idempotent DDL, safe under concurrent first-open races.
func (d *DB) bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS store_locks (
			name TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			acquired_at TIMESTAMP NOT NULL
		)`,
		`INSERT INTO schema_version (version)
			SELECT 0 WHERE NOT EXISTS (SELECT 1 FROM schema_version)`,
	}
	for _, q := range stmts {
		if err := Retry(ctx, 10*time.Second, func() error {
			_, err := d.sql.ExecContext(ctx, q)
			return err
		}); err != nil {
			return fmt.Errorf("store: bootstrap: %w", err)
		}
	}
	return nil
}

func (d *DB) currentVersion(ctx context.Context) (int, error) {
	var v int
	err := d.sql.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return v, nil
}

// tryMigrate acquires the migration lock and applies pending steps. When the
// lock is held by a live peer it returns a busy error so Retry backs off; the
// peer's completed work is detected on the next attempt via the version check.
func (d *DB) tryMigrate(ctx context.Context, owner string) error {
	current, err := d.currentVersion(ctx)
	if err != nil {
		return err
	}
	if current >= SchemaVersion() {
		return nil
	}

	acquired, err := d.acquireLock(ctx, owner)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("store: migration lock held by peer: %w", errBusyLock)
	}
	defer d.releaseLock(owner)

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := d.applyMigration(ctx, m); err != nil {
			return err
		}
		d.log.Info("applied store migration", "version", m.version, "name", m.name)
	}
	return nil
}

// errBusyLock piggybacks on the busy-retry path in Retry.
var errBusyLock = errors.New("database is locked by migrating peer")

func (d *DB) acquireLock(ctx context.Context, owner string) (bool, error) {
	now := time.Now().UTC()
	res, err := d.sql.ExecContext(ctx, `
		INSERT INTO store_locks (name, owner, acquired_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, acquired_at = excluded.acquired_at
		WHERE store_locks.acquired_at < ?`,
		migrationLockName, owner, now, now.Add(-migrationLockTTL))
	if err != nil {
		return false, fmt.Errorf("store: acquire migration lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	// Confirm ownership: the upsert may have raced another fresh insert.
	var got string
	if err := d.sql.QueryRowContext(ctx,
		`SELECT owner FROM store_locks WHERE name = ?`, migrationLockName).Scan(&got); err != nil {
		return false, fmt.Errorf("store: confirm migration lock: %w", err)
	}
	return got == owner, nil
}

func (d *DB) releaseLock(owner string) {
	_, err := d.sql.Exec(`DELETE FROM store_locks WHERE name = ? AND owner = ?`,
		migrationLockName, owner)
	if err != nil {
		d.log.Warn("failed to release migration lock", "error", err)
	}
}

// applyMigration runs one step and its version bump in a single transaction,
// so a partially applied step never becomes visible.
func (d *DB) applyMigration(ctx context.Context, m migration) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	for _, q := range m.stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("store: migration %d (%s): %w", m.version, m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = ?`, m.version); err != nil {
		return fmt.Errorf("store: record migration %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit migration %d: %w", m.version, err)
	}
	return nil
}
