// Package scores records per-session game results and derives leaderboards.
// The scores table is append-only: a lower result is never rejected and
// nothing is collapsed at write time. Bests, ranks, and leaderboards are all
// computed at read time from the full history.
package scores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"gamezone/internal/games"
	"gamezone/internal/store"
)

// Score is one recorded session result.
type Score struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	GameID     string    `json:"game_id"`
	Value      float64   `json:"value"`
	AchievedAt time.Time `json:"achieved_at"`
}

// LeaderboardEntry is one derived row of a per-game leaderboard.
type LeaderboardEntry struct {
	Rank       int       `json:"rank"`
	UserHandle string    `json:"user_handle"`
	Value      float64   `json:"value"`
	AchievedAt time.Time `json:"achieved_at"`
}

// OverallEntry is one derived row of a cross-game leaderboard.
type OverallEntry struct {
	Rank       int     `json:"rank"`
	UserHandle string  `json:"user_handle"`
	Total      float64 `json:"total"`
}

// Limits bound leaderboard query sizes.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits caps work for interactive callers.
var DefaultLimits = Limits{Default: 20, Max: 100}

// Ledger owns the scores table.
type Ledger struct {
	db     *sql.DB
	games  *games.Registry
	limits Limits
}

// NewLedger wraps the shared database handle. Zero limits fall back to
// DefaultLimits.
func NewLedger(db *sql.DB, reg *games.Registry, limits Limits) *Ledger {
	if limits.Default <= 0 {
		limits.Default = DefaultLimits.Default
	}
	if limits.Max <= 0 {
		limits.Max = DefaultLimits.Max
	}
	return &Ledger{db: db, games: reg, limits: limits}
}

// RecordResult appends one session result. The value must be finite, and
// non-negative unless the game's spec allows negatives. achievedAt zero means
// now. The referenced user and game must exist.
func (l *Ledger) RecordResult(ctx context.Context, userID int64, gameID string, value float64, achievedAt time.Time) (Score, error) {
	spec, err := l.games.Get(gameID)
	if err != nil {
		return Score{}, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Score{}, fmt.Errorf("scores: value %v is not finite: %w", value, store.ErrInvalidValue)
	}
	if value < 0 && !spec.AllowNegative {
		return Score{}, fmt.Errorf("scores: negative value %v for game %q: %w", value, gameID, store.ErrInvalidValue)
	}
	if achievedAt.IsZero() {
		achievedAt = time.Now()
	}
	achievedAt = achievedAt.UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Score{}, fmt.Errorf("scores: begin record: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return Score{}, fmt.Errorf("scores: user %d: %w", userID, store.ErrNotFound)
	}
	if err != nil {
		return Score{}, fmt.Errorf("scores: check user %d: %w", userID, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO scores (user_id, game_id, value, achieved_at) VALUES (?, ?, ?, ?)`,
		userID, gameID, value, achievedAt)
	if err != nil {
		return Score{}, fmt.Errorf("scores: record result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Score{}, fmt.Errorf("scores: record result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Score{}, fmt.Errorf("scores: commit record: %w", err)
	}

	return Score{ID: id, UserID: userID, GameID: gameID, Value: value, AchievedAt: achievedAt}, nil
}

// Leaderboard returns the top limit score rows for a game, best value first,
// ties broken by earlier achievement. Every query reflects the latest
// committed state; nothing is cached across calls.
func (l *Ledger) Leaderboard(ctx context.Context, gameID string, limit int) ([]LeaderboardEntry, error) {
	spec, err := l.games.Get(gameID)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, fmt.Errorf("scores: leaderboard limit %d: %w", limit, store.ErrInvalidValue)
	}
	if limit > l.limits.Max {
		limit = l.limits.Max
	}

	order := "DESC"
	if spec.Direction == games.LowerWins {
		order = "ASC"
	}
	q := fmt.Sprintf(`
		SELECT u.handle, s.value, s.achieved_at
		FROM scores s JOIN users u ON u.id = s.user_id
		WHERE s.game_id = ?
		ORDER BY s.value %s, s.achieved_at ASC
		LIMIT ?`, order)

	rows, err := l.db.QueryContext(ctx, q, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("scores: leaderboard %q: %w", gameID, err)
	}
	defer rows.Close()

	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserHandle, &e.Value, &e.AchievedAt); err != nil {
			return nil, fmt.Errorf("scores: scan leaderboard row: %w", err)
		}
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// PersonalBest returns the user's best score for a game, or nil when the
// user has no recorded result there.
func (l *Ledger) PersonalBest(ctx context.Context, userID int64, gameID string) (*Score, error) {
	spec, err := l.games.Get(gameID)
	if err != nil {
		return nil, err
	}
	order := "DESC"
	if spec.Direction == games.LowerWins {
		order = "ASC"
	}
	q := fmt.Sprintf(`
		SELECT id, user_id, game_id, value, achieved_at
		FROM scores WHERE user_id = ? AND game_id = ?
		ORDER BY value %s, achieved_at ASC
		LIMIT 1`, order)

	var s Score
	err = l.db.QueryRowContext(ctx, q, userID, gameID).
		Scan(&s.ID, &s.UserID, &s.GameID, &s.Value, &s.AchievedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scores: personal best: %w", err)
	}
	return &s, nil
}

// GameRank returns the user's 1-based rank for a game, comparing per-user
// bests. Zero means the user has no score there.
func (l *Ledger) GameRank(ctx context.Context, userID int64, gameID string) (int, error) {
	spec, err := l.games.Get(gameID)
	if err != nil {
		return 0, err
	}
	best, err := l.PersonalBest(ctx, userID, gameID)
	if err != nil {
		return 0, err
	}
	if best == nil {
		return 0, nil
	}

	cmp := ">"
	agg := "MAX"
	if spec.Direction == games.LowerWins {
		cmp = "<"
		agg = "MIN"
	}
	q := fmt.Sprintf(`
		SELECT COUNT(*) FROM (
			SELECT user_id, %s(value) AS best FROM scores WHERE game_id = ? GROUP BY user_id
		) WHERE best %s ?`, agg, cmp)

	var ahead int
	if err := l.db.QueryRowContext(ctx, q, gameID, best.Value).Scan(&ahead); err != nil {
		return 0, fmt.Errorf("scores: game rank: %w", err)
	}
	return ahead + 1, nil
}

// TotalScore returns the sum of every value the user has recorded, across
// all games.
func (l *Ledger) TotalScore(ctx context.Context, userID int64) (float64, error) {
	var total sql.NullFloat64
	err := l.db.QueryRowContext(ctx,
		`SELECT SUM(value) FROM scores WHERE user_id = ?`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("scores: total: %w", err)
	}
	return total.Float64, nil
}

// GameTotalScore returns the sum of the user's values within one game.
func (l *Ledger) GameTotalScore(ctx context.Context, userID int64, gameID string) (float64, error) {
	if _, err := l.games.Get(gameID); err != nil {
		return 0, err
	}
	var total sql.NullFloat64
	err := l.db.QueryRowContext(ctx,
		`SELECT SUM(value) FROM scores WHERE user_id = ? AND game_id = ?`,
		userID, gameID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("scores: game total: %w", err)
	}
	return total.Float64, nil
}

// OverallByBests returns the sum of the user's per-game best values. This is
// the fair cross-game total: grinding one game does not inflate it.
func (l *Ledger) OverallByBests(ctx context.Context, userID int64) (float64, error) {
	var total sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `
		SELECT SUM(best) FROM (
			SELECT MAX(value) AS best FROM scores WHERE user_id = ? GROUP BY game_id
		)`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("scores: overall by bests: %w", err)
	}
	return total.Float64, nil
}

// OverallLeaderboard ranks users by the sum of all their recorded values.
func (l *Ledger) OverallLeaderboard(ctx context.Context, limit int) ([]OverallEntry, error) {
	return l.overall(ctx, limit, `
		SELECT u.handle, SUM(s.value) AS total
		FROM scores s JOIN users u ON u.id = s.user_id
		GROUP BY s.user_id
		ORDER BY total DESC
		LIMIT ?`)
}

// OverallLeaderboardByBests ranks users by the sum of their per-game bests.
func (l *Ledger) OverallLeaderboardByBests(ctx context.Context, limit int) ([]OverallEntry, error) {
	return l.overall(ctx, limit, `
		SELECT u.handle, SUM(b.best) AS total
		FROM (
			SELECT user_id, game_id, MAX(value) AS best FROM scores GROUP BY user_id, game_id
		) b JOIN users u ON u.id = b.user_id
		GROUP BY b.user_id
		ORDER BY total DESC
		LIMIT ?`)
}

func (l *Ledger) overall(ctx context.Context, limit int, q string) ([]OverallEntry, error) {
	if limit < 1 {
		return nil, fmt.Errorf("scores: leaderboard limit %d: %w", limit, store.ErrInvalidValue)
	}
	if limit > l.limits.Max {
		limit = l.limits.Max
	}
	rows, err := l.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("scores: overall leaderboard: %w", err)
	}
	defer rows.Close()

	var out []OverallEntry
	for rows.Next() {
		var e OverallEntry
		if err := rows.Scan(&e.UserHandle, &e.Total); err != nil {
			return nil, fmt.Errorf("scores: scan overall row: %w", err)
		}
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// OverallRank returns the user's 1-based rank by total score. Zero means no
// recorded scores.
func (l *Ledger) OverallRank(ctx context.Context, userID int64) (int, error) {
	return l.overallRank(ctx, userID,
		`SELECT SUM(value) FROM scores WHERE user_id = ?`,
		`SELECT COUNT(*) FROM (
			SELECT SUM(value) AS total FROM scores GROUP BY user_id
		) WHERE total > ?`)
}

// OverallRankByBests returns the user's 1-based rank by sum of per-game
// bests. Zero means no recorded scores.
func (l *Ledger) OverallRankByBests(ctx context.Context, userID int64) (int, error) {
	return l.overallRank(ctx, userID,
		`SELECT SUM(best) FROM (
			SELECT MAX(value) AS best FROM scores WHERE user_id = ? GROUP BY game_id
		)`,
		`SELECT COUNT(*) FROM (
			SELECT SUM(best) AS total FROM (
				SELECT user_id, MAX(value) AS best FROM scores GROUP BY user_id, game_id
			) GROUP BY user_id
		) WHERE total > ?`)
}

func (l *Ledger) overallRank(ctx context.Context, userID int64, totalQ, aheadQ string) (int, error) {
	var total sql.NullFloat64
	if err := l.db.QueryRowContext(ctx, totalQ, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("scores: overall rank: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	var ahead int
	if err := l.db.QueryRowContext(ctx, aheadQ, total.Float64).Scan(&ahead); err != nil {
		return 0, fmt.Errorf("scores: overall rank: %w", err)
	}
	return ahead + 1, nil
}

// PlayCount returns how many results the user has recorded, across all games.
func (l *Ledger) PlayCount(ctx context.Context, userID int64) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scores WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("scores: play count: %w", err)
	}
	return n, nil
}
