// Package storage defines the persistence interfaces for the knowledge graph.
//
// The layer is split into small capability interfaces: GraphStore is the
// required base (entity/relation CRUD over versioned rows), and TemporalReader
// and VectorStore are optional extensions. Capabilities are discovered once at
// construction time via type assertion, never per call.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/teo-mateo/memento-mcp/pkg/types"
)

var (
	// ErrNotFound indicates the requested entity or relation does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateKey indicates a create collision on an existing identity
	// when the caller did not request merge semantics.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrDimensionMismatch indicates a vector whose length does not match
	// the configured embedding dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrValidation indicates malformed input (e.g. strength outside [0,1]).
	ErrValidation = errors.New("validation failed")

	// ErrStorageUnavailable indicates the backing store is unreachable.
	// It is surfaced as-is and never retried inside the core.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrSuperseded indicates an embedding write was tagged with a content
	// version that is no longer the entity's latest. The write is ignored so
	// a slow worker cannot clobber an embedding computed from newer content.
	ErrSuperseded = errors.New("embedding content version superseded")
)

// EntityMutation transforms the current entity value into the next version.
// It is applied inside the store's per-key critical section so version
// increments stay atomic.
type EntityMutation func(*types.Entity) error

// RelationMutation transforms the current relation value into the next version.
type RelationMutation func(*types.Relation) error

// ValidateEntity checks structural requirements on an entity.
func ValidateEntity(e *types.Entity) error {
	if e == nil {
		return fmt.Errorf("%w: entity is nil", ErrValidation)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: entity name is required", ErrValidation)
	}
	if e.EntityType == "" {
		return fmt.Errorf("%w: entity type is required", ErrValidation)
	}
	return nil
}

// ValidateRelation checks structural requirements on a relation,
// including the [0,1] range for strength and confidence.
func ValidateRelation(r *types.Relation) error {
	if r == nil {
		return fmt.Errorf("%w: relation is nil", ErrValidation)
	}
	if r.From == "" || r.To == "" {
		return fmt.Errorf("%w: relation endpoints are required", ErrValidation)
	}
	if r.RelationType == "" {
		return fmt.Errorf("%w: relation type is required", ErrValidation)
	}
	if r.Strength != nil && (*r.Strength < 0 || *r.Strength > 1) {
		return fmt.Errorf("%w: strength %v outside [0,1]", ErrValidation, *r.Strength)
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrValidation, *r.Confidence)
	}
	return nil
}

// UnionObservations merges newObs into existing with merge-on-duplicate-create
// semantics: deduplicated, original order preserved, new items appended.
func UnionObservations(existing, newObs []string) []string {
	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing)+len(newObs))
	for _, obs := range existing {
		if !seen[obs] {
			seen[obs] = true
			merged = append(merged, obs)
		}
	}
	for _, obs := range newObs {
		if !seen[obs] {
			seen[obs] = true
			merged = append(merged, obs)
		}
	}
	return merged
}

// Capabilities describes which optional interfaces a store implements.
// Discovered once at construction via DetectCapabilities.
type Capabilities struct {
	// Temporal is true when the store supports history and point-in-time
	// reads (TemporalReader).
	Temporal bool

	// Vector is true when the store persists embedding vectors (VectorStore).
	Vector bool
}

// DetectCapabilities probes a GraphStore for its optional extensions.
func DetectCapabilities(s GraphStore) Capabilities {
	_, temporal := s.(TemporalReader)
	_, vector := s.(VectorStore)
	return Capabilities{Temporal: temporal, Vector: vector}
}

// EmbeddingRecord pairs an entity's current embedding with the content
// version it was computed from. Used to rebuild the in-process vector index.
type EmbeddingRecord struct {
	EntityName string
	Embedding  types.EntityEmbedding
	// ContentVersion is the entity version the vector corresponds to.
	ContentVersion int
	// EntityType is carried for index metadata filters.
	EntityType string
	// Stale is true when the entity has been mutated after the vector was
	// written; stale entities need a fresh embedding job.
	Stale bool
}

// SimilarityMatch is one row of a database-side similarity search.
type SimilarityMatch struct {
	EntityName string
	EntityType string
	Similarity float64
}

// AtTimeFilter bounds point-in-time queries.
type AtTimeFilter struct {
	At time.Time
}
