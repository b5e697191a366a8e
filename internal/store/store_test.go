package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	db, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnsureReadyFreshPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	db := openTestDB(t, path)

	if err := db.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady failed: %v", err)
	}

	v, err := db.currentVersion(context.Background())
	if err != nil {
		t.Fatalf("currentVersion failed: %v", err)
	}
	if v != SchemaVersion() {
		t.Errorf("Expected schema version %d, got %d", SchemaVersion(), v)
	}

	// Second call is a no-op.
	if err := db.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady second call failed: %v", err)
	}
}

func TestEnsureReadyConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")

	// Two independent handles on the same fresh file, as two processes
	// opening the store at once would hold.
	a := openTestDB(t, path)
	b := openTestDB(t, path)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, db := range []*DB{a, b} {
		wg.Add(1)
		go func(i int, db *DB) {
			defer wg.Done()
			errs[i] = db.EnsureReady(context.Background())
		}(i, db)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("EnsureReady caller %d failed: %v", i, err)
		}
	}

	va, _ := a.currentVersion(context.Background())
	vb, _ := b.currentVersion(context.Background())
	if va != SchemaVersion() || vb != SchemaVersion() {
		t.Errorf("Expected both handles at version %d, got %d and %d", SchemaVersion(), va, vb)
	}

	// Exactly one users table, no duplicate side effects.
	var n int
	if err := a.Conn().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='users'`).Scan(&n); err != nil {
		t.Fatalf("Failed to inspect schema: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected exactly one users table, got %d", n)
	}
}

func TestEnsureReadyRefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	db := openTestDB(t, path)

	if err := db.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady failed: %v", err)
	}
	if _, err := db.Conn().Exec(`UPDATE schema_version SET version = ?`, SchemaVersion()+10); err != nil {
		t.Fatalf("Failed to fake future version: %v", err)
	}

	err := db.EnsureReady(context.Background())
	if !errors.Is(err, ErrStoreCorrupt) {
		t.Errorf("Expected ErrStoreCorrupt for future schema, got %v", err)
	}
}

func TestEnsureReadyPreemptsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	db := openTestDB(t, path)

	if err := db.bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	// A lock left behind by a dead process, well past the TTL.
	stale := time.Now().UTC().Add(-2 * migrationLockTTL)
	if _, err := db.Conn().Exec(
		`INSERT INTO store_locks (name, owner, acquired_at) VALUES (?, 'dead-process', ?)`,
		migrationLockName, stale); err != nil {
		t.Fatalf("Failed to plant stale lock: %v", err)
	}

	if err := db.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady should preempt a stale lock, got %v", err)
	}
}

func TestRetrySurfacesStoreBusy(t *testing.T) {
	err := Retry(context.Background(), 50*time.Millisecond, func() error {
		return errors.New("database is locked")
	})
	if !errors.Is(err, ErrStoreBusy) {
		t.Errorf("Expected ErrStoreBusy, got %v", err)
	}
}

func TestRetryDoesNotRetryLogicalErrors(t *testing.T) {
	calls := 0
	logical := errors.New("UNIQUE constraint failed: users.handle")
	err := Retry(context.Background(), time.Second, func() error {
		calls++
		return logical
	})
	if !errors.Is(err, logical) {
		t.Errorf("Expected the logical error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected exactly 1 attempt for a logical error, got %d", calls)
	}
}

func TestErrClassifiers(t *testing.T) {
	if !IsConstraintErr(errors.New("UNIQUE constraint failed: users.handle (2067)")) {
		t.Error("Expected unique violation to classify as constraint error")
	}
	if IsConstraintErr(nil) || IsBusyErr(nil) {
		t.Error("nil must not classify as any error")
	}
	if !IsBusyErr(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("Expected SQLITE_BUSY to classify as busy")
	}
	if IsBusyErr(errors.New("no such table: users")) {
		t.Error("Schema errors must not classify as busy")
	}
}
