package games

import (
	"errors"
	"testing"

	"gamezone/internal/store"
)

func TestNewRegistryValidation(t *testing.T) {
	if _, err := NewRegistry([]Spec{{ID: ""}}); err == nil {
		t.Error("Expected error for empty game id")
	}
	if _, err := NewRegistry([]Spec{{ID: "dino"}, {ID: "dino"}}); err == nil {
		t.Error("Expected error for duplicate game id")
	}
	if _, err := NewRegistry([]Spec{{ID: "dino", Direction: "sideways"}}); err == nil {
		t.Error("Expected error for unknown direction")
	}
}

func TestRegistryGet(t *testing.T) {
	r, err := NewRegistry([]Spec{
		{ID: "dino", Name: "Dino"},
		{ID: "sprint", Direction: LowerWins},
	})
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}

	spec, err := r.Get("dino")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if spec.Direction != HigherWins {
		t.Errorf("Expected empty direction to default to HigherWins, got %q", spec.Direction)
	}

	if _, err := r.Get("tetris"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown game, got %v", err)
	}

	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "dino" || ids[1] != "sprint" {
		t.Errorf("Expected sorted ids [dino sprint], got %v", ids)
	}
}

func TestSpecBetter(t *testing.T) {
	higher := Spec{ID: "dino", Direction: HigherWins}
	if !higher.Better(10, 5) || higher.Better(5, 10) {
		t.Error("HigherWins should prefer the larger value")
	}
	lower := Spec{ID: "sprint", Direction: LowerWins}
	if !lower.Better(5, 10) || lower.Better(10, 5) {
		t.Error("LowerWins should prefer the smaller value")
	}
	if higher.Better(7, 7) {
		t.Error("Equal values should not beat each other")
	}
}
