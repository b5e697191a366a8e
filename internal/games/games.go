// Package games holds the registry of games the progress store knows about.
// The store itself carries no game rules; it only needs each game's scoring
// convention to validate results and order leaderboards.
package games

import (
	"fmt"
	"sort"

	"gamezone/internal/store"
)

// Direction fixes how score values compare within one game.
type Direction string

const (
	// HigherWins means larger values rank first (the default convention).
	HigherWins Direction = "higher"
	// LowerWins means smaller values rank first (e.g. completion time).
	LowerWins Direction = "lower"
)

// Spec describes one game's scoring contract.
type Spec struct {
	// ID is the stable string key scores are recorded under, e.g. "dino".
	ID string
	// Name is the display name.
	Name string
	// Direction is the score ordering convention. Empty means HigherWins.
	Direction Direction
	// AllowNegative permits values below zero (golf-style scoring).
	AllowNegative bool
}

// Registry resolves game IDs to their specs.
type Registry struct {
	byID map[string]Spec
}

// NewRegistry builds a registry from specs. Duplicate or empty IDs are
// configuration errors.
func NewRegistry(specs []Spec) (*Registry, error) {
	r := &Registry{byID: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("games: spec with empty id")
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, fmt.Errorf("games: duplicate game id %q", s.ID)
		}
		if s.Direction == "" {
			s.Direction = HigherWins
		}
		if s.Direction != HigherWins && s.Direction != LowerWins {
			return nil, fmt.Errorf("games: game %q has unknown direction %q", s.ID, s.Direction)
		}
		r.byID[s.ID] = s
	}
	return r, nil
}

// Get returns the spec for id, or store.ErrNotFound for unknown games.
func (r *Registry) Get(id string) (Spec, error) {
	s, ok := r.byID[id]
	if !ok {
		return Spec{}, fmt.Errorf("games: unknown game %q: %w", id, store.ErrNotFound)
	}
	return s, nil
}

// IDs returns all registered game IDs, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Better reports whether a beats b under the spec's direction.
func (s Spec) Better(a, b float64) bool {
	if s.Direction == LowerWins {
		return a < b
	}
	return a > b
}
