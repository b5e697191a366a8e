package scores

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gamezone/internal/games"
)

// GameStats aggregates one user's history within a single game.
type GameStats struct {
	Plays int
	Best  float64
	Total float64
}

// Stats returns per-game aggregates for a user. Bests honor each game's
// score direction; games no longer in the registry fall back to
// higher-is-better so old rows still count.
func (l *Ledger) Stats(ctx context.Context, userID int64) (map[string]GameStats, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT game_id, COUNT(*), MAX(value), MIN(value), SUM(value)
		FROM scores WHERE user_id = ? GROUP BY game_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("scores: stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]GameStats)
	for rows.Next() {
		var (
			gameID   string
			st       GameStats
			max, min float64
		)
		if err := rows.Scan(&gameID, &st.Plays, &max, &min, &st.Total); err != nil {
			return nil, fmt.Errorf("scores: scan stats: %w", err)
		}
		st.Best = max
		if spec, err := l.games.Get(gameID); err == nil && spec.Direction == games.LowerWins {
			st.Best = min
		}
		out[gameID] = st
	}
	return out, rows.Err()
}

// PlayDays returns the sorted distinct UTC days (YYYY-MM-DD) on which the
// user recorded a result, keyed by game id. The empty key aggregates all
// games. Day bucketing happens here rather than in SQL so it never depends
// on the driver's timestamp text format.
func (l *Ledger) PlayDays(ctx context.Context, userID int64) (map[string][]string, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT game_id, achieved_at FROM scores WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("scores: play days: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]map[string]bool)
	add := func(game, day string) {
		if seen[game] == nil {
			seen[game] = make(map[string]bool)
		}
		seen[game][day] = true
	}
	for rows.Next() {
		var (
			gameID string
			at     time.Time
		)
		if err := rows.Scan(&gameID, &at); err != nil {
			return nil, fmt.Errorf("scores: scan play day: %w", err)
		}
		day := at.UTC().Format("2006-01-02")
		add(gameID, day)
		add("", day)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(seen))
	for game, days := range seen {
		list := make([]string, 0, len(days))
		for d := range days {
			list = append(list, d)
		}
		sort.Strings(list)
		out[game] = list
	}
	return out, nil
}

// ActiveUsers returns the ids of every user with at least one recorded
// score, in id order. Used by retroactive achievement rescans.
func (l *Ledger) ActiveUsers(ctx context.Context) ([]int64, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM scores ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("scores: active users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scores: scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
