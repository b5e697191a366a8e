// Package friends manages friend relationships between users. One row per
// unordered user pair (stored low id / high id) moves through a small state
// machine: none -> pending -> accepted, with blocked as a terminal state only
// the blocker can clear.
package friends

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gamezone/internal/identity"
	"gamezone/internal/store"
)

// Status is the state of a friend relation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusBlocked  Status = "blocked"
)

// Relation is one stored pair state.
type Relation struct {
	UserLow     int64
	UserHigh    int64
	RequestedBy int64
	BlockedBy   int64 // zero unless Status is StatusBlocked
	Status      Status
	UpdatedAt   time.Time
}

// Graph owns the friend_relations table.
type Graph struct {
	db *sql.DB
}

// NewGraph wraps the shared database handle.
func NewGraph(db *sql.DB) *Graph {
	return &Graph{db: db}
}

func pairOf(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// Request creates a pending relation from requester to target. Fails with
// ErrInvalidRelation for self-requests and ErrAlreadyExists when any
// relation for the pair exists in either direction, including a block.
func (g *Graph) Request(ctx context.Context, requester, target int64) error {
	if requester == target {
		return fmt.Errorf("friends: self-relation for user %d: %w", requester, store.ErrInvalidRelation)
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("friends: begin request: %w", err)
	}
	defer tx.Rollback()

	for _, id := range []int64{requester, target} {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("friends: user %d: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("friends: check user %d: %w", id, err)
		}
	}

	low, high := pairOf(requester, target)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO friend_relations (user_low, user_high, requested_by, status, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		low, high, requester, StatusPending, time.Now().UTC())
	if err != nil {
		if store.IsConstraintErr(err) {
			return fmt.Errorf("friends: relation %d-%d: %w", requester, target, store.ErrAlreadyExists)
		}
		return fmt.Errorf("friends: request: %w", err)
	}
	return tx.Commit()
}

// Accept transitions a pending relation to accepted. Only the recipient of
// the request may accept; the requester accepting their own request is
// ErrInvalidRelation, a missing relation is ErrNotFound.
func (g *Graph) Accept(ctx context.Context, accepter, requester int64) error {
	if accepter == requester {
		return fmt.Errorf("friends: self-relation for user %d: %w", accepter, store.ErrInvalidRelation)
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("friends: begin accept: %w", err)
	}
	defer tx.Rollback()

	rel, err := relation(ctx, tx, accepter, requester)
	if err != nil {
		return err
	}
	if rel.Status != StatusPending {
		return fmt.Errorf("friends: relation is %s, not pending: %w", rel.Status, store.ErrInvalidRelation)
	}
	if rel.RequestedBy != requester {
		return fmt.Errorf("friends: user %d did not send this request: %w", requester, store.ErrInvalidRelation)
	}

	low, high := pairOf(accepter, requester)
	_, err = tx.ExecContext(ctx, `
		UPDATE friend_relations SET status = ?, updated_at = ?
		WHERE user_low = ? AND user_high = ?`,
		StatusAccepted, time.Now().UTC(), low, high)
	if err != nil {
		return fmt.Errorf("friends: accept: %w", err)
	}
	return tx.Commit()
}

// Block moves the pair to blocked, creating the relation if none exists.
// Blocking is idempotent for the same blocker; a pair already blocked by
// the other side cannot be re-blocked.
func (g *Graph) Block(ctx context.Context, blocker, target int64) error {
	if blocker == target {
		return fmt.Errorf("friends: self-relation for user %d: %w", blocker, store.ErrInvalidRelation)
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("friends: begin block: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	low, high := pairOf(blocker, target)
	rel, err := relation(ctx, tx, blocker, target)
	switch {
	case errors.Is(err, store.ErrNotFound):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO friend_relations (user_low, user_high, requested_by, blocked_by, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			low, high, blocker, blocker, StatusBlocked, now)
		if err != nil {
			return fmt.Errorf("friends: block: %w", err)
		}
	case err != nil:
		return err
	case rel.Status == StatusBlocked && rel.BlockedBy == blocker:
		return nil // already blocked by this caller; nothing to do
	case rel.Status == StatusBlocked:
		return fmt.Errorf("friends: pair already blocked by user %d: %w", rel.BlockedBy, store.ErrInvalidRelation)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE friend_relations SET status = ?, blocked_by = ?, updated_at = ?
			WHERE user_low = ? AND user_high = ?`,
			StatusBlocked, blocker, now, low, high)
		if err != nil {
			return fmt.Errorf("friends: block: %w", err)
		}
	}
	return tx.Commit()
}

// Unblock clears a block, returning the pair to no relation. Only the
// blocker may clear it.
func (g *Graph) Unblock(ctx context.Context, blocker, target int64) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("friends: begin unblock: %w", err)
	}
	defer tx.Rollback()

	rel, err := relation(ctx, tx, blocker, target)
	if err != nil {
		return err
	}
	if rel.Status != StatusBlocked {
		return fmt.Errorf("friends: relation is %s, not blocked: %w", rel.Status, store.ErrInvalidRelation)
	}
	if rel.BlockedBy != blocker {
		return fmt.Errorf("friends: only the blocker may unblock: %w", store.ErrInvalidRelation)
	}

	low, high := pairOf(blocker, target)
	_, err = tx.ExecContext(ctx, `
		DELETE FROM friend_relations WHERE user_low = ? AND user_high = ?`, low, high)
	if err != nil {
		return fmt.Errorf("friends: unblock: %w", err)
	}
	return tx.Commit()
}

// Friends returns the users with an accepted relation to userID.
func (g *Graph) Friends(ctx context.Context, userID int64) ([]identity.User, error) {
	return g.related(ctx, userID, `
		SELECT u.id, u.handle, u.created_at
		FROM friend_relations f
		JOIN users u ON u.id = CASE WHEN f.user_low = ? THEN f.user_high ELSE f.user_low END
		WHERE (f.user_low = ? OR f.user_high = ?) AND f.status = ?
		ORDER BY u.handle COLLATE NOCASE`,
		userID, userID, userID, StatusAccepted)
}

// Requests returns users with a pending request sent to userID.
func (g *Graph) Requests(ctx context.Context, userID int64) ([]identity.User, error) {
	return g.related(ctx, userID, `
		SELECT u.id, u.handle, u.created_at
		FROM friend_relations f
		JOIN users u ON u.id = f.requested_by
		WHERE (f.user_low = ? OR f.user_high = ?) AND f.status = ? AND f.requested_by != ?
		ORDER BY f.updated_at DESC`,
		userID, userID, StatusPending, userID)
}

func (g *Graph) related(ctx context.Context, userID int64, q string, args ...any) ([]identity.User, error) {
	rows, err := g.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("friends: list for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []identity.User
	for rows.Next() {
		var u identity.User
		if err := rows.Scan(&u.ID, &u.Handle, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("friends: scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountFriends returns the number of accepted relations for userID.
func (g *Graph) CountFriends(ctx context.Context, userID int64) (int, error) {
	var n int
	err := g.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM friend_relations
		WHERE (user_low = ? OR user_high = ?) AND status = ?`,
		userID, userID, StatusAccepted).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("friends: count: %w", err)
	}
	return n, nil
}

// Relation returns the stored state for a pair, or store.ErrNotFound.
func (g *Graph) Relation(ctx context.Context, a, b int64) (Relation, error) {
	return relation(ctx, g.db, a, b)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func relation(ctx context.Context, q querier, a, b int64) (Relation, error) {
	low, high := pairOf(a, b)
	var (
		rel       Relation
		blockedBy sql.NullInt64
		status    string
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_low, user_high, requested_by, blocked_by, status, updated_at
		FROM friend_relations WHERE user_low = ? AND user_high = ?`, low, high).
		Scan(&rel.UserLow, &rel.UserHigh, &rel.RequestedBy, &blockedBy, &status, &rel.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Relation{}, fmt.Errorf("friends: relation %d-%d: %w", a, b, store.ErrNotFound)
	}
	if err != nil {
		return Relation{}, fmt.Errorf("friends: load relation: %w", err)
	}
	rel.Status = Status(status)
	if blockedBy.Valid {
		rel.BlockedBy = blockedBy.Int64
	}
	return rel, nil
}
