package engine

import (
	"math"
	"time"

	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// DecayedConfidence computes the time-decayed confidence of a relation:
// confidence * 2^(-age/halfLife), floored at minConfidence. Pure; used only
// for presentation, never written back to storage.
func DecayedConfidence(confidence float64, updatedAt, reference time.Time, halfLife time.Duration, minConfidence float64) float64 {
	if halfLife <= 0 {
		return confidence
	}
	age := reference.Sub(updatedAt)
	decayed := confidence * math.Pow(2, -age.Seconds()/halfLife.Seconds())
	return math.Max(minConfidence, decayed)
}

// ApplyDecay returns a copy of relations with decayed confidence values.
// Relations without a confidence pass through unchanged.
func ApplyDecay(relations []types.Relation, reference time.Time, halfLife time.Duration, minConfidence float64) []types.Relation {
	out := make([]types.Relation, len(relations))
	for i, rel := range relations {
		out[i] = rel
		if rel.Confidence == nil {
			continue
		}
		updatedAt := reference
		if rel.Metadata != nil && !rel.Metadata.UpdatedAt.IsZero() {
			updatedAt = rel.Metadata.UpdatedAt
		}
		decayed := DecayedConfidence(*rel.Confidence, updatedAt, reference, halfLife, minConfidence)
		out[i].Confidence = &decayed
	}
	return out
}
