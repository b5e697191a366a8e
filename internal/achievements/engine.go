package achievements

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gamezone/internal/games"
)

// Unlock is one recorded achievement unlock.
type Unlock struct {
	Key         string    `json:"key"`
	GameID      string    `json:"game_id,omitempty"`
	Description string    `json:"description"`
	UnlockedAt  time.Time `json:"unlocked_at"`
}

// SnapshotFn assembles the read-only evaluation snapshot for a user. Wired
// by the façade from the score ledger and friend graph.
type SnapshotFn func(ctx context.Context, userID int64) (Snapshot, error)

// Engine evaluates the configured rule set and records unlocks.
type Engine struct {
	db       *sql.DB
	games    *games.Registry
	defs     []Definition
	snapshot SnapshotFn
	log      *slog.Logger
}

// NewEngine validates the definitions and builds an engine over the shared
// database handle. Definitions are kept in key order so evaluation is
// deterministic.
func NewEngine(db *sql.DB, reg *games.Registry, defs []Definition, snapshot SnapshotFn, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seen := make(map[string]bool, len(defs))
	sorted := make([]Definition, len(defs))
	copy(sorted, defs)
	for _, d := range sorted {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if seen[d.Key] {
			return nil, fmt.Errorf("achievements: duplicate key %q", d.Key)
		}
		seen[d.Key] = true
		if d.GameID != "" {
			if _, err := reg.Get(d.GameID); err != nil {
				return nil, fmt.Errorf("achievements: %s references unknown game %q", d.Key, d.GameID)
			}
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return &Engine{db: db, games: reg, defs: sorted, snapshot: snapshot, log: logger}, nil
}

// SyncCatalog upserts the achievements table so external SQL clients can
// join unlock rows to descriptions. Called once at store open.
func (e *Engine) SyncCatalog(ctx context.Context) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("achievements: begin catalog sync: %w", err)
	}
	defer tx.Rollback()

	for _, d := range e.defs {
		var gameID any
		if d.GameID != "" {
			gameID = d.GameID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO achievements (key, game_id, description) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET game_id = excluded.game_id, description = excluded.description`,
			d.Key, gameID, d.Description)
		if err != nil {
			return fmt.Errorf("achievements: sync %s: %w", d.Key, err)
		}
	}
	return tx.Commit()
}

// Evaluate re-runs every rule scoped to triggerGame, plus all cross-game
// rules, against a fresh snapshot of the user's history. Rules whose
// predicate holds get an unlock row; the unique (user, achievement) key
// makes re-evaluation a no-op, not an error. Returns the newly unlocked
// keys so the caller can surface a notification.
//
// An empty triggerGame evaluates the full rule set (used by Rescan).
func (e *Engine) Evaluate(ctx context.Context, userID int64, triggerGame string) ([]string, error) {
	snap, err := e.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("achievements: begin evaluate: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var unlocked []string
	for _, d := range e.defs {
		if triggerGame != "" && d.GameID != "" && d.GameID != triggerGame {
			continue
		}
		if !d.Met(snap, e.games) {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO achievement_unlocks (user_id, achievement_key, unlocked_at)
			VALUES (?, ?, ?)`, userID, d.Key, now)
		if err != nil {
			return nil, fmt.Errorf("achievements: unlock %s: %w", d.Key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("achievements: unlock %s: %w", d.Key, err)
		}
		if n > 0 {
			unlocked = append(unlocked, d.Key)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("achievements: commit evaluate: %w", err)
	}

	if len(unlocked) > 0 {
		e.log.Info("achievements unlocked", "user_id", userID, "keys", unlocked)
	}
	return unlocked, nil
}

// UnlockStatus returns the user's unlocks, most recent first.
func (e *Engine) UnlockStatus(ctx context.Context, userID int64) ([]Unlock, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT u.achievement_key, COALESCE(a.game_id, ''), COALESCE(a.description, ''), u.unlocked_at
		FROM achievement_unlocks u
		LEFT JOIN achievements a ON a.key = u.achievement_key
		WHERE u.user_id = ?
		ORDER BY u.unlocked_at DESC, u.achievement_key ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("achievements: unlock status: %w", err)
	}
	defer rows.Close()

	var out []Unlock
	for rows.Next() {
		var u Unlock
		if err := rows.Scan(&u.Key, &u.GameID, &u.Description, &u.UnlockedAt); err != nil {
			return nil, fmt.Errorf("achievements: scan unlock: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Rescan retroactively evaluates the full rule set for every user in ids
// and returns how many unlocks were newly recorded. Idempotent.
func (e *Engine) Rescan(ctx context.Context, ids []int64) (int, error) {
	total := 0
	for _, id := range ids {
		unlocked, err := e.Evaluate(ctx, id, "")
		if err != nil {
			return total, fmt.Errorf("achievements: rescan user %d: %w", id, err)
		}
		total += len(unlocked)
	}
	return total, nil
}
