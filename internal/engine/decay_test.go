package engine

import (
	"math"
	"testing"
	"time"

	"github.com/teo-mateo/memento-mcp/pkg/types"
)

func TestDecayedConfidence_OneHalfLife(t *testing.T) {
	halfLife := 30 * 24 * time.Hour
	updatedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reference := updatedAt.Add(halfLife)

	got := DecayedConfidence(0.8, updatedAt, reference, halfLife, 0.1)
	if math.Abs(got-0.4) > 1e-9 {
		t.Errorf("one half-life should halve confidence: got %f, want 0.4", got)
	}
}

func TestDecayedConfidence_Floor(t *testing.T) {
	halfLife := time.Hour
	updatedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reference := updatedAt.Add(100 * halfLife)

	got := DecayedConfidence(0.8, updatedAt, reference, halfLife, 0.1)
	if got != 0.1 {
		t.Errorf("decay should floor at minConfidence: got %f", got)
	}
}

func TestDecayedConfidence_FreshRelation(t *testing.T) {
	now := time.Now().UTC()
	got := DecayedConfidence(0.9, now, now, time.Hour, 0.1)
	if math.Abs(got-0.9) > 1e-9 {
		t.Errorf("zero age should not decay: got %f", got)
	}
}

func TestApplyDecay_NilConfidencePassesThrough(t *testing.T) {
	conf := 0.8
	updatedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	halfLife := 24 * time.Hour
	reference := updatedAt.Add(halfLife)

	relations := []types.Relation{
		{From: "a", To: "b", RelationType: "knows"},
		{
			From: "a", To: "c", RelationType: "likes",
			Confidence: &conf,
			Metadata:   &types.RelationMetadata{UpdatedAt: updatedAt},
		},
	}

	decayed := ApplyDecay(relations, reference, halfLife, 0.1)

	if decayed[0].Confidence != nil {
		t.Error("relation without confidence should pass through unchanged")
	}
	if decayed[1].Confidence == nil || math.Abs(*decayed[1].Confidence-0.4) > 1e-9 {
		t.Errorf("expected decayed confidence 0.4, got %v", decayed[1].Confidence)
	}

	// Presentation only: the input slice keeps its stored value.
	if *relations[1].Confidence != 0.8 {
		t.Errorf("stored confidence must not mutate, got %f", *relations[1].Confidence)
	}
}
