package identity

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"gamezone/internal/store"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "progress.db"), store.Options{})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.EnsureReady(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db.Conn()
}

func TestResolveOrCreateIsStable(t *testing.T) {
	reg := NewRegistry(newTestDB(t))
	ctx := context.Background()

	first, err := reg.ResolveOrCreate(ctx, "ash")
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	if first.ID == 0 {
		t.Error("Expected a non-zero user id")
	}

	second, err := reg.ResolveOrCreate(ctx, "ash")
	if err != nil {
		t.Fatalf("ResolveOrCreate second call failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected same id %d, got %d", first.ID, second.ID)
	}
}

func TestResolveOrCreateCaseInsensitive(t *testing.T) {
	reg := NewRegistry(newTestDB(t))
	ctx := context.Background()

	lower, err := reg.ResolveOrCreate(ctx, "ash")
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	upper, err := reg.ResolveOrCreate(ctx, "ASH")
	if err != nil {
		t.Fatalf("ResolveOrCreate upper-case failed: %v", err)
	}
	if upper.ID != lower.ID {
		t.Errorf("Expected case variants to resolve to id %d, got %d", lower.ID, upper.ID)
	}
	// The original casing survives.
	if upper.Handle != "ash" {
		t.Errorf("Expected stored handle 'ash', got %q", upper.Handle)
	}
}

func TestResolveOrCreateConcurrentFirstSight(t *testing.T) {
	db := newTestDB(t)
	reg := NewRegistry(db)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	ids := make([]int64, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := reg.ResolveOrCreate(ctx, "misty")
			ids[i], errs[i] = u.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Caller %d failed: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("Caller %d got id %d, want %d", i, ids[i], ids[0])
		}
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM users WHERE handle = 'misty'`).Scan(&n); err != nil {
		t.Fatalf("Failed to count users: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected exactly one created user, got %d", n)
	}
}

func TestResolveOrCreateRejectsEmptyHandle(t *testing.T) {
	reg := NewRegistry(newTestDB(t))

	_, err := reg.ResolveOrCreate(context.Background(), "   ")
	if !errors.Is(err, store.ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue for blank handle, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	reg := NewRegistry(newTestDB(t))

	_, err := reg.Get(context.Background(), 12345)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
