// Package identity creates and resolves user records. Handles are unique
// case-insensitively; ids are immutable once assigned and users are never
// deleted, so historical scores stay attributable.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gamezone/internal/store"
)

// User is one registered player.
type User struct {
	ID        int64     `json:"id"`
	Handle    string    `json:"handle"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry resolves handles to users against the shared store.
type Registry struct {
	db *sql.DB
}

// NewRegistry wraps the shared database handle.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// ResolveOrCreate returns the user for handle, creating it on first sight.
// Lookup is case-insensitive. A concurrent first-time create in another
// process is converted to a successful lookup, never an error.
func (r *Registry) ResolveOrCreate(ctx context.Context, handle string) (User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return User{}, fmt.Errorf("identity: empty handle: %w", store.ErrInvalidValue)
	}

	if u, err := r.byHandle(ctx, handle); err == nil {
		return u, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return User{}, err
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (handle, created_at) VALUES (?, ?)`, handle, now)
	if err != nil {
		if store.IsConstraintErr(err) {
			// Lost the insert race; the row exists now.
			return r.byHandle(ctx, handle)
		}
		return User{}, fmt.Errorf("identity: create %q: %w", handle, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("identity: create %q: %w", handle, err)
	}
	return User{ID: id, Handle: handle, CreatedAt: now}, nil
}

// Get returns the user with id, or store.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id int64) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, handle, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Handle, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("identity: user %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("identity: get user %d: %w", id, err)
	}
	return u, nil
}

func (r *Registry) byHandle(ctx context.Context, handle string) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, handle, created_at FROM users WHERE handle = ? COLLATE NOCASE`, handle).
		Scan(&u.ID, &u.Handle, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("identity: handle %q: %w", handle, store.ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("identity: lookup %q: %w", handle, err)
	}
	return u, nil
}
