// Package progress is the façade every game process uses to reach the
// shared progress store. Open runs migrations, composes the component
// packages, and owns the retry discipline; the components own their own
// transaction boundaries.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gamezone/internal/achievements"
	"gamezone/internal/config"
	"gamezone/internal/friends"
	"gamezone/internal/games"
	"gamezone/internal/identity"
	"gamezone/internal/scores"
	"gamezone/internal/store"
)

// Store is one process's handle on the shared progress database.
type Store struct {
	db       *store.DB
	games    *games.Registry
	users    *identity.Registry
	ledger   *scores.Ledger
	engine   *achievements.Engine
	graph    *friends.Graph
	deadline time.Duration
	log      *slog.Logger
}

// Open opens the store file named by cfg, brings the schema up to date
// (waiting on a migrating peer process if necessary), and syncs the
// achievement catalog. The returned Store is safe for use for the life of
// the process; Close it on shutdown.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg, err := games.NewRegistry(cfg.GameSpecs())
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Store.Path, store.Options{
		BusyTimeout: cfg.Store.BusyTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	if err := db.EnsureReady(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		games:    reg,
		users:    identity.NewRegistry(db.Conn()),
		ledger:   scores.NewLedger(db.Conn(), reg, cfg.Limits()),
		graph:    friends.NewGraph(db.Conn()),
		deadline: cfg.Store.RetryDeadline,
		log:      logger,
	}
	if s.deadline <= 0 {
		s.deadline = 10 * time.Second
	}

	engine, err := achievements.NewEngine(db.Conn(), reg, cfg.AchievementDefs(), s.snapshot, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.engine = engine

	if err := s.retry(ctx, func() error { return engine.SyncCatalog(ctx) }); err != nil {
		db.Close()
		return nil, fmt.Errorf("progress: sync achievement catalog: %w", err)
	}

	logger.Info("progress store ready",
		"path", cfg.Store.Path,
		"schema_version", store.SchemaVersion(),
		"games", reg.IDs())
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// retry re-attempts fn on SQLITE_BUSY class contention, bounded by the
// configured deadline. Logical failures are never retried.
func (s *Store) retry(ctx context.Context, fn func() error) error {
	return store.Retry(ctx, s.deadline, fn)
}

// snapshot assembles the read-only rule evaluation view from the ledger
// and the friend graph.
func (s *Store) snapshot(ctx context.Context, userID int64) (achievements.Snapshot, error) {
	byGame, err := s.ledger.Stats(ctx, userID)
	if err != nil {
		return achievements.Snapshot{}, err
	}
	days, err := s.ledger.PlayDays(ctx, userID)
	if err != nil {
		return achievements.Snapshot{}, err
	}
	nFriends, err := s.graph.CountFriends(ctx, userID)
	if err != nil {
		return achievements.Snapshot{}, err
	}
	return achievements.Snapshot{ByGame: byGame, PlayDays: days, FriendCount: nFriends}, nil
}

// ResolveUser returns the user for handle, creating it on first sight.
func (s *Store) ResolveUser(ctx context.Context, handle string) (identity.User, error) {
	var u identity.User
	err := s.retry(ctx, func() error {
		var err error
		u, err = s.users.ResolveOrCreate(ctx, handle)
		return err
	})
	return u, err
}

// User returns the user with id.
func (s *Store) User(ctx context.Context, id int64) (identity.User, error) {
	return s.users.Get(ctx, id)
}

// RecordResult appends a session result and re-evaluates achievement rules
// for the game (plus cross-game rules). It returns the stored score and the
// keys of any newly unlocked achievements.
func (s *Store) RecordResult(ctx context.Context, userID int64, gameID string, value float64) (scores.Score, []string, error) {
	var sc scores.Score
	err := s.retry(ctx, func() error {
		var err error
		sc, err = s.ledger.RecordResult(ctx, userID, gameID, value, time.Time{})
		return err
	})
	if err != nil {
		return scores.Score{}, nil, err
	}

	var unlocked []string
	err = s.retry(ctx, func() error {
		var err error
		unlocked, err = s.engine.Evaluate(ctx, userID, gameID)
		return err
	})
	if err != nil {
		// The score is committed; a failed evaluation is recoverable by
		// Rescan, so report it without discarding the result.
		return sc, nil, fmt.Errorf("progress: score recorded, rule evaluation failed: %w", err)
	}
	return sc, unlocked, nil
}

// Leaderboard returns the top limit results for a game.
func (s *Store) Leaderboard(ctx context.Context, gameID string, limit int) ([]scores.LeaderboardEntry, error) {
	return s.ledger.Leaderboard(ctx, gameID, limit)
}

// PersonalBest returns the user's best score for a game, or nil.
func (s *Store) PersonalBest(ctx context.Context, userID int64, gameID string) (*scores.Score, error) {
	return s.ledger.PersonalBest(ctx, userID, gameID)
}

// UnlockStatus returns the user's achievement unlocks, most recent first.
func (s *Store) UnlockStatus(ctx context.Context, userID int64) ([]achievements.Unlock, error) {
	return s.engine.UnlockStatus(ctx, userID)
}

// FriendRequest sends a friend request from requester to target.
func (s *Store) FriendRequest(ctx context.Context, requester, target int64) error {
	return s.retry(ctx, func() error { return s.graph.Request(ctx, requester, target) })
}

// FriendAccept accepts requester's pending request to accepter.
func (s *Store) FriendAccept(ctx context.Context, accepter, requester int64) error {
	return s.retry(ctx, func() error { return s.graph.Accept(ctx, accepter, requester) })
}

// FriendBlock blocks the pair on behalf of blocker.
func (s *Store) FriendBlock(ctx context.Context, blocker, target int64) error {
	return s.retry(ctx, func() error { return s.graph.Block(ctx, blocker, target) })
}

// FriendUnblock clears blocker's block on the pair.
func (s *Store) FriendUnblock(ctx context.Context, blocker, target int64) error {
	return s.retry(ctx, func() error { return s.graph.Unblock(ctx, blocker, target) })
}

// Friends returns the user's accepted friends.
func (s *Store) Friends(ctx context.Context, userID int64) ([]identity.User, error) {
	return s.graph.Friends(ctx, userID)
}

// FriendRequests returns users with a pending request sent to userID.
func (s *Store) FriendRequests(ctx context.Context, userID int64) ([]identity.User, error) {
	return s.graph.Requests(ctx, userID)
}

// OverallLeaderboard ranks users by total score across all games.
func (s *Store) OverallLeaderboard(ctx context.Context, limit int) ([]scores.OverallEntry, error) {
	return s.ledger.OverallLeaderboard(ctx, limit)
}

// OverallLeaderboardByBests ranks users by the sum of per-game bests.
func (s *Store) OverallLeaderboardByBests(ctx context.Context, limit int) ([]scores.OverallEntry, error) {
	return s.ledger.OverallLeaderboardByBests(ctx, limit)
}

// GameRank returns the user's rank within one game, by personal best.
func (s *Store) GameRank(ctx context.Context, userID int64, gameID string) (int, error) {
	return s.ledger.GameRank(ctx, userID, gameID)
}

// OverallRank returns the user's rank by total score.
func (s *Store) OverallRank(ctx context.Context, userID int64) (int, error) {
	return s.ledger.OverallRank(ctx, userID)
}

// OverallRankByBests returns the user's rank by sum of per-game bests.
func (s *Store) OverallRankByBests(ctx context.Context, userID int64) (int, error) {
	return s.ledger.OverallRankByBests(ctx, userID)
}

// Rescan retroactively evaluates every configured rule for every user with
// recorded scores. Returns the number of unlocks newly recorded.
func (s *Store) Rescan(ctx context.Context) (int, error) {
	ids, err := s.ledger.ActiveUsers(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.retry(ctx, func() error {
		var err error
		n, err = s.engine.Rescan(ctx, ids)
		return err
	})
	return n, err
}
