// Package types defines the core data structures for the memento-mcp
// knowledge graph: entities, relations, their temporal versions, embedding
// jobs, and the KnowledgeGraph result shape returned by queries.
package types

import "time"

// Entity represents a named node in the knowledge graph.
// Identity is the Name: two entities with the same name are the same logical
// entity across versions.
type Entity struct {
	// Name is the unique key for the entity.
	Name string `json:"name"`

	// EntityType classifies the entity (e.g. "person", "project").
	EntityType string `json:"entityType"`

	// Observations is an ordered list of free-text facts about the entity.
	Observations []string `json:"observations"`

	// Embedding is the vector embedding of the entity's text, if one has
	// been generated. Nil until the embedding worker has processed it.
	Embedding *EntityEmbedding `json:"embedding,omitempty"`
}

// EntityEmbedding is a fixed-dimension vector representing the semantic
// content of an entity's name, type, and observations.
type EntityEmbedding struct {
	// Vector holds the embedding values. Its length must equal the
	// configured model dimensionality; mismatched vectors are rejected,
	// never truncated or padded.
	Vector []float32 `json:"vector"`

	// Model is the embedding model that produced the vector.
	Model string `json:"model"`

	// LastUpdated is when the vector was generated.
	LastUpdated time.Time `json:"lastUpdated"`
}

// TemporalEntity is an immutable versioned snapshot of an entity.
// Version increases strictly with each mutation of the same logical entity;
// history is never deleted, only superseded.
type TemporalEntity struct {
	Entity

	// ID is an opaque identifier for this specific version row.
	ID string `json:"id"`

	// Version is the monotonically increasing version number (>= 1).
	Version int `json:"version"`

	// CreatedAt is when the logical entity was first created.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when this version was written.
	UpdatedAt time.Time `json:"updatedAt"`

	// ValidFrom is the start of this version's validity interval.
	ValidFrom time.Time `json:"validFrom"`

	// ValidTo is the end of the validity interval (exclusive).
	// Nil means the version is still valid.
	ValidTo *time.Time `json:"validTo,omitempty"`

	// ChangedBy records who or what produced this version, when known.
	ChangedBy string `json:"changedBy,omitempty"`
}

// Current reports whether this version is the live one (open validity interval).
func (e *TemporalEntity) Current() bool {
	return e.ValidTo == nil
}

// ValidAt reports whether t falls inside this version's [ValidFrom, ValidTo)
// interval. An open-ended ValidTo is treated as "still valid".
func (e *TemporalEntity) ValidAt(t time.Time) bool {
	if t.Before(e.ValidFrom) {
		return false
	}
	return e.ValidTo == nil || t.Before(*e.ValidTo)
}

// EmbeddingText returns the text the embedding worker embeds for this entity:
// name, type, and all observations joined into one document. Keeping this in
// one place guarantees the cache key and the generated vector always agree on
// the exact content.
func (e *Entity) EmbeddingText() string {
	text := e.Name + " (" + e.EntityType + ")"
	for _, obs := range e.Observations {
		text += "\n" + obs
	}
	return text
}
