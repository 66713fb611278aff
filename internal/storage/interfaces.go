package storage

import (
	"context"
	"time"

	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// GraphStore is the required base interface every backend implements.
// All mutations are non-destructive: each write produces a new version row
// and closes the validity interval of the previous one. Per-identity version
// increments are atomic (per-key serialization inside the store), so
// concurrent mutations of the same entity can never produce lost updates.
type GraphStore interface {
	// CreateEntity creates an entity, or merges into an existing one when
	// merge is true (observations unioned, type updated). With merge false
	// an existing name fails with ErrDuplicateKey.
	CreateEntity(ctx context.Context, entity types.Entity, merge bool, changedBy string) (*types.TemporalEntity, error)

	// GetEntity returns the current version of the named entity,
	// or ErrNotFound.
	GetEntity(ctx context.Context, name string) (*types.TemporalEntity, error)

	// UpdateEntity applies mutate to the current version and writes version
	// n+1, closing the previous interval. Fails with ErrNotFound if the
	// name is absent.
	UpdateEntity(ctx context.Context, name string, mutate EntityMutation, changedBy string) (*types.TemporalEntity, error)

	// DeleteEntity closes the current version's validity interval without
	// erasing history, and removes the entity's current relations the same
	// way. Fails with ErrNotFound if the name is absent.
	DeleteEntity(ctx context.Context, name string) error

	// ListEntities returns the current version of every live entity.
	ListEntities(ctx context.Context) ([]types.TemporalEntity, error)

	// SearchEntities performs keyword search over name, type, and
	// observations of current entity versions. Matching is case-insensitive
	// substring; results are capped at limit (0 means no cap).
	SearchEntities(ctx context.Context, query string, limit int) ([]types.TemporalEntity, error)

	// CreateRelation creates a relation version 1. An existing live
	// (from, to, relationType) triple fails with ErrDuplicateKey.
	// Either endpoint missing fails with ErrNotFound.
	CreateRelation(ctx context.Context, rel types.Relation, changedBy string) (*types.TemporalRelation, error)

	// GetRelation returns the current version of the identified relation,
	// or ErrNotFound.
	GetRelation(ctx context.Context, from, to, relationType string) (*types.TemporalRelation, error)

	// UpdateRelation applies mutate to the current version and writes the
	// next one. Fails with ErrNotFound for a non-existent triple.
	UpdateRelation(ctx context.Context, from, to, relationType string, mutate RelationMutation, changedBy string) (*types.TemporalRelation, error)

	// DeleteRelation closes the current version's validity interval.
	// Fails with ErrNotFound for a non-existent triple.
	DeleteRelation(ctx context.Context, from, to, relationType string) error

	// ListRelations returns the current version of every live relation.
	ListRelations(ctx context.Context) ([]types.TemporalRelation, error)

	// RelationsForEntities returns live relations whose endpoints are both
	// within names.
	RelationsForEntities(ctx context.Context, names []string) ([]types.TemporalRelation, error)

	// Close releases backing resources.
	Close() error
}

// TemporalReader is the optional history/point-in-time extension.
// Both bundled backends implement it.
type TemporalReader interface {
	// GetEntityHistory returns every version of the named entity in
	// chronological order, oldest first. ErrNotFound if no version exists.
	GetEntityHistory(ctx context.Context, name string) ([]types.TemporalEntity, error)

	// GetRelationHistory mirrors GetEntityHistory for a relation triple.
	GetRelationHistory(ctx context.Context, from, to, relationType string) ([]types.TemporalRelation, error)

	// GraphAtTime reconstructs the snapshot at t: for every entity and
	// relation, the version whose [validFrom, validTo) interval contains t.
	GraphAtTime(ctx context.Context, t time.Time) (*types.KnowledgeGraph, error)
}

// VectorStore is the optional embedding-persistence extension. The embedding
// column on the current entity version is the source of truth for vectors;
// the in-process index is a rebuildable projection of it.
type VectorStore interface {
	// StoreEmbedding writes emb onto the entity's current version, tagged
	// with the content version it was computed from. Returns ErrSuperseded
	// when contentVersion is older than the current version, ErrNotFound
	// when the entity no longer exists.
	StoreEmbedding(ctx context.Context, entityName string, emb types.EntityEmbedding, contentVersion int) error

	// GetEmbedding returns the current embedding for the entity, or
	// ErrNotFound when the entity is missing or has no vector yet.
	GetEmbedding(ctx context.Context, entityName string) (*types.EntityEmbedding, error)

	// ListEmbeddings returns one record per live entity describing its
	// embedding state, for index rebuild and repair at startup.
	ListEmbeddings(ctx context.Context) ([]EmbeddingRecord, error)
}

// SimilaritySearcher is the optional extension for stores that can rank by
// vector similarity inside the database. When a store advertises it, the
// search pipeline routes its vector branch here instead of scanning the
// in-process index. Detected once at construction by type assertion.
type SimilaritySearcher interface {
	// SimilarEntities returns live embedded entities ranked by descending
	// cosine similarity to query, dropping rows below minSimilarity.
	SimilarEntities(ctx context.Context, query []float32, limit int, minSimilarity float64) ([]SimilarityMatch, error)
}
