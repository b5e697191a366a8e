package progress

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamezone/internal/config"
	"gamezone/internal/store"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "game_zone.db")
	return cfg
}

func openTestStore(t *testing.T, cfg config.Config) *Store {
	t.Helper()
	s, err := Open(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEndToEndSession(t *testing.T) {
	s := openTestStore(t, testConfig(t))
	ctx := context.Background()

	ash, err := s.ResolveUser(ctx, "ash")
	require.NoError(t, err)

	// Handles are case-insensitive: a second process resolving "Ash" gets
	// the same account.
	again, err := s.ResolveUser(ctx, "Ash")
	require.NoError(t, err)
	assert.Equal(t, ash.ID, again.ID)

	// Three dino sessions, with the middle one worse than the first.
	var lastUnlocked []string
	for _, v := range []float64{520, 80, 150} {
		_, unlocked, err := s.RecordResult(ctx, ash.ID, "dino", v)
		require.NoError(t, err)
		lastUnlocked = unlocked
	}
	assert.Empty(t, lastUnlocked, "150 unlocks nothing new after the 520 run")

	best, err := s.PersonalBest(ctx, ash.ID, "dino")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, float64(520), best.Value)

	top, err := s.Leaderboard(ctx, "dino", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, float64(520), top[0].Value)
	assert.Equal(t, float64(150), top[1].Value)

	// The 520 run crossed the stock 500-point threshold.
	unlocks, err := s.UnlockStatus(ctx, ash.ID)
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "dino_score_500", unlocks[0].Key)

	rank, err := s.GameRank(ctx, ash.ID, "dino")
	require.NoError(t, err)
	assert.Equal(t, 1, rank)
}

func TestFriendFlowFeedsFriendRules(t *testing.T) {
	cfg := testConfig(t)
	cfg.Achievements = []config.AchievementConfig{
		{Key: "first_friend", Description: "Make a friend",
			Rule: config.RuleConfig{Type: "friend_count", Threshold: 1}},
	}
	s := openTestStore(t, cfg)
	ctx := context.Background()

	ash, err := s.ResolveUser(ctx, "ash")
	require.NoError(t, err)
	misty, err := s.ResolveUser(ctx, "misty")
	require.NoError(t, err)

	require.NoError(t, s.FriendRequest(ctx, ash.ID, misty.ID))
	inbox, err := s.FriendRequests(ctx, misty.ID)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "ash", inbox[0].Handle)

	require.NoError(t, s.FriendAccept(ctx, misty.ID, ash.ID))
	mutual, err := s.Friends(ctx, ash.ID)
	require.NoError(t, err)
	require.Len(t, mutual, 1)
	assert.Equal(t, "misty", mutual[0].Handle)

	// Friendship feeds the friend-count rule on the next evaluation.
	_, unlocked, err := s.RecordResult(ctx, ash.ID, "snake", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"first_friend"}, unlocked)

	require.NoError(t, s.FriendBlock(ctx, misty.ID, ash.ID))
	assert.ErrorIs(t, s.FriendRequest(ctx, ash.ID, misty.ID), store.ErrAlreadyExists)
	require.NoError(t, s.FriendUnblock(ctx, misty.ID, ash.ID))
	require.NoError(t, s.FriendRequest(ctx, ash.ID, misty.ID))
}

func TestRescanBackfillsNewRules(t *testing.T) {
	cfg := testConfig(t)
	s := openTestStore(t, cfg)
	ctx := context.Background()

	ash, err := s.ResolveUser(ctx, "ash")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := s.RecordResult(ctx, ash.ID, "snake", float64(100+i))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	// Reopen with a rule the history already satisfies.
	cfg.Achievements = []config.AchievementConfig{
		{Key: "snake_plays_3", Game: "snake", Description: "Play 3 rounds of snake",
			Rule: config.RuleConfig{Type: "play_count", Threshold: 3}},
	}
	s2 := openTestStore(t, cfg)

	n, err := s2.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unlocks, err := s2.UnlockStatus(ctx, ash.ID)
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "snake_plays_3", unlocks[0].Key)

	// Rescan is idempotent.
	n, err = s2.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProfile(t *testing.T) {
	s := openTestStore(t, testConfig(t))
	ctx := context.Background()

	ash, err := s.ResolveUser(ctx, "ash")
	require.NoError(t, err)
	_, _, err = s.RecordResult(ctx, ash.ID, "dino", 600)
	require.NoError(t, err)
	_, _, err = s.RecordResult(ctx, ash.ID, "dino", 200)
	require.NoError(t, err)
	_, _, err = s.RecordResult(ctx, ash.ID, "snake", 50)
	require.NoError(t, err)

	p, err := s.Profile(ctx, ash.ID)
	require.NoError(t, err)
	assert.Equal(t, "ash", p.User.Handle)
	assert.Equal(t, float64(650), p.TotalByBests)
	assert.Equal(t, 3, p.TotalPlays)
	require.Len(t, p.Unlocks, 1)
	assert.Equal(t, "dino_score_500", p.Unlocks[0].Key)

	_, err = s.Profile(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTwoProcessesShareOneStore(t *testing.T) {
	cfg := testConfig(t)
	a := openTestStore(t, cfg)
	b := openTestStore(t, cfg)
	ctx := context.Background()

	ash, err := a.ResolveUser(ctx, "ash")
	require.NoError(t, err)
	_, _, err = a.RecordResult(ctx, ash.ID, "dino", 300)
	require.NoError(t, err)

	// The second handle sees the first one's write immediately.
	same, err := b.ResolveUser(ctx, "ash")
	require.NoError(t, err)
	assert.Equal(t, ash.ID, same.ID)

	top, err := b.Leaderboard(ctx, "dino", 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, float64(300), top[0].Value)
}
