// Package achievements evaluates unlock rules against a user's accumulated
// history and records unlocks. The engine holds no game logic: rules are a
// closed set of tagged predicate variants so the configured rule set stays
// enumerable and testable.
package achievements

import (
	"fmt"
	"time"

	"gamezone/internal/games"
	"gamezone/internal/scores"
)

// Kind tags one rule variant.
type Kind string

const (
	// KindScoreThreshold: best score in the rule's game reaches Threshold.
	KindScoreThreshold Kind = "score_threshold"
	// KindPlayCount: number of recorded results in the rule's game reaches Threshold.
	KindPlayCount Kind = "play_count"
	// KindTotalScore: sum of all recorded values in the rule's game reaches Threshold.
	KindTotalScore Kind = "total_score"
	// KindGamesPlayed: distinct games with at least one result reaches Threshold. Cross-game.
	KindGamesPlayed Kind = "games_played"
	// KindDayStreak: longest run of consecutive UTC days with a result
	// (in the rule's game, or any game when unscoped) reaches Threshold.
	KindDayStreak Kind = "day_streak"
	// KindFriendCount: accepted friendships reach Threshold. Cross-game.
	KindFriendCount Kind = "friend_count"
)

// Definition is one configured achievement and its unlock rule.
type Definition struct {
	Key         string
	GameID      string // empty for cross-game rules
	Description string
	Kind        Kind
	Threshold   float64
}

// Validate rejects malformed definitions at configuration time.
func (d Definition) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("achievements: definition with empty key")
	}
	switch d.Kind {
	case KindScoreThreshold, KindPlayCount, KindTotalScore:
		if d.GameID == "" {
			return fmt.Errorf("achievements: %s: %s rules need a game", d.Key, d.Kind)
		}
	case KindDayStreak:
		// game optional: unscoped streaks count any play day
	case KindGamesPlayed, KindFriendCount:
		if d.GameID != "" {
			return fmt.Errorf("achievements: %s: %s rules are cross-game, got game %q", d.Key, d.Kind, d.GameID)
		}
	default:
		return fmt.Errorf("achievements: %s: unknown rule kind %q", d.Key, d.Kind)
	}
	return nil
}

// Snapshot is the read-only view of a user's accumulated state that rules
// are evaluated against. Rules never see or mutate live store rows.
type Snapshot struct {
	// ByGame aggregates the user's score history per game.
	ByGame map[string]scores.GameStats
	// PlayDays maps game id to sorted distinct UTC days (YYYY-MM-DD) with a
	// recorded result. The empty key covers all games.
	PlayDays map[string][]string
	// FriendCount is the user's number of accepted friendships.
	FriendCount int
}

// Met reports whether the rule's predicate holds for the snapshot. Pure:
// identical snapshots always produce identical answers.
func (d Definition) Met(snap Snapshot, reg *games.Registry) bool {
	switch d.Kind {
	case KindScoreThreshold:
		st, ok := snap.ByGame[d.GameID]
		if !ok {
			return false
		}
		if spec, err := reg.Get(d.GameID); err == nil && spec.Direction == games.LowerWins {
			return st.Best <= d.Threshold
		}
		return st.Best >= d.Threshold
	case KindPlayCount:
		return float64(snap.ByGame[d.GameID].Plays) >= d.Threshold
	case KindTotalScore:
		return snap.ByGame[d.GameID].Total >= d.Threshold
	case KindGamesPlayed:
		return float64(len(snap.ByGame)) >= d.Threshold
	case KindDayStreak:
		return float64(longestStreak(snap.PlayDays[d.GameID])) >= d.Threshold
	case KindFriendCount:
		return float64(snap.FriendCount) >= d.Threshold
	}
	return false
}

// longestStreak counts the longest run of consecutive calendar days in a
// sorted list of distinct YYYY-MM-DD strings.
func longestStreak(days []string) int {
	best, run := 0, 0
	var prev string
	for _, day := range days {
		if prev != "" && nextDay(prev) == day {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
		prev = day
	}
	return best
}

func nextDay(day string) string {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, 1).Format("2006-01-02")
}

// Defaults returns the stock rule set for the given game ids: best-score
// thresholds at 500 and 1000 plus play-count milestones at 5, 10, and 25
// per game.
func Defaults(gameIDs []string) []Definition {
	var defs []Definition
	for _, g := range gameIDs {
		for _, th := range []int{500, 1000} {
			defs = append(defs, Definition{
				Key:         fmt.Sprintf("%s_score_%d", g, th),
				GameID:      g,
				Description: fmt.Sprintf("Score %d or more in %s", th, g),
				Kind:        KindScoreThreshold,
				Threshold:   float64(th),
			})
		}
		for _, th := range []int{5, 10, 25} {
			defs = append(defs, Definition{
				Key:         fmt.Sprintf("%s_plays_%d", g, th),
				GameID:      g,
				Description: fmt.Sprintf("Play %d rounds of %s", th, g),
				Kind:        KindPlayCount,
				Threshold:   float64(th),
			})
		}
	}
	return defs
}
