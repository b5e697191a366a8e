// Package config loads progress-store configuration from an optional YAML
// file with environment variable overrides. Every field has a usable
// default so game processes can open the store with zero configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"gamezone/internal/achievements"
	"gamezone/internal/games"
	"gamezone/internal/scores"
)

// Config is the application configuration.
type Config struct {
	Store        StoreConfig         `yaml:"store"`
	Leaderboard  LeaderboardConfig   `yaml:"leaderboard"`
	Games        []GameConfig        `yaml:"games"`
	Achievements []AchievementConfig `yaml:"achievements"`
}

// StoreConfig locates and tunes the SQLite store file.
type StoreConfig struct {
	Path          string        `yaml:"path" env:"GAMEZONE_DB_PATH"`
	BusyTimeout   time.Duration `yaml:"busy_timeout" env:"GAMEZONE_DB_BUSY_TIMEOUT"`
	RetryDeadline time.Duration `yaml:"retry_deadline" env:"GAMEZONE_DB_RETRY_DEADLINE"`
}

// LeaderboardConfig bounds leaderboard query sizes.
type LeaderboardConfig struct {
	DefaultLimit int `yaml:"default_limit" env:"GAMEZONE_LEADERBOARD_DEFAULT_LIMIT"`
	MaxLimit     int `yaml:"max_limit" env:"GAMEZONE_LEADERBOARD_MAX_LIMIT"`
}

// GameConfig declares one game and its scoring convention.
type GameConfig struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Direction     string `yaml:"direction"` // "higher" (default) or "lower"
	AllowNegative bool   `yaml:"allow_negative"`
}

// AchievementConfig declares one achievement and its unlock rule.
type AchievementConfig struct {
	Key         string     `yaml:"key"`
	Game        string     `yaml:"game"`
	Description string     `yaml:"description"`
	Rule        RuleConfig `yaml:"rule"`
}

// RuleConfig is the tagged rule variant for an achievement.
type RuleConfig struct {
	Type      string  `yaml:"type"`
	Threshold float64 `yaml:"threshold"`
}

// Default returns the built-in configuration: the four stock games, the
// stock achievement set, and a store file next to the launcher.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Path:          "game_zone.db",
			BusyTimeout:   5 * time.Second,
			RetryDeadline: 10 * time.Second,
		},
		Leaderboard: LeaderboardConfig{
			DefaultLimit: scores.DefaultLimits.Default,
			MaxLimit:     scores.DefaultLimits.Max,
		},
		Games: []GameConfig{
			{ID: "snake", Name: "Snake"},
			{ID: "pacman", Name: "Pacman"},
			{ID: "flappy", Name: "Flappy"},
			{ID: "dino", Name: "Dino"},
		},
	}
}

// Load builds the configuration: built-in defaults, then the YAML file at
// path if it exists, then environment overrides. An empty path skips the
// file step.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// No file: defaults plus environment.
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}
	if len(cfg.Games) == 0 {
		return Config{}, fmt.Errorf("config: no games configured")
	}
	return cfg, nil
}

// GameSpecs converts the configured games for the registry.
func (c Config) GameSpecs() []games.Spec {
	specs := make([]games.Spec, 0, len(c.Games))
	for _, g := range c.Games {
		specs = append(specs, games.Spec{
			ID:            g.ID,
			Name:          g.Name,
			Direction:     games.Direction(g.Direction),
			AllowNegative: g.AllowNegative,
		})
	}
	return specs
}

// AchievementDefs converts the configured achievements for the engine.
// With no achievements configured, the stock rule set for the configured
// games applies.
func (c Config) AchievementDefs() []achievements.Definition {
	if len(c.Achievements) == 0 {
		ids := make([]string, 0, len(c.Games))
		for _, g := range c.Games {
			ids = append(ids, g.ID)
		}
		return achievements.Defaults(ids)
	}
	defs := make([]achievements.Definition, 0, len(c.Achievements))
	for _, a := range c.Achievements {
		defs = append(defs, achievements.Definition{
			Key:         a.Key,
			GameID:      a.Game,
			Description: a.Description,
			Kind:        achievements.Kind(a.Rule.Type),
			Threshold:   a.Rule.Threshold,
		})
	}
	return defs
}

// Limits converts the leaderboard bounds for the ledger.
func (c Config) Limits() scores.Limits {
	return scores.Limits{Default: c.Leaderboard.DefaultLimit, Max: c.Leaderboard.MaxLimit}
}
