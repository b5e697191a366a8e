package progress

import (
	"context"

	"gamezone/internal/achievements"
	"gamezone/internal/identity"
)

// Profile is the cross-game summary shown on a player's profile screen.
type Profile struct {
	User identity.User `json:"user"`
	// TotalByBests sums the user's per-game best scores.
	TotalByBests float64 `json:"total_by_bests"`
	// TotalPlays counts every recorded session across all games.
	TotalPlays int                   `json:"total_plays"`
	Unlocks    []achievements.Unlock `json:"unlocks"`
}

// Profile assembles the summary for one user.
func (s *Store) Profile(ctx context.Context, userID int64) (Profile, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	total, err := s.ledger.OverallByBests(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	plays, err := s.ledger.PlayCount(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	unlocks, err := s.engine.UnlockStatus(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: u, TotalByBests: total, TotalPlays: plays, Unlocks: unlocks}, nil
}
