package types

import "time"

// Relation represents a directed, typed edge between two entities.
// Identity is the (From, To, RelationType) triple.
type Relation struct {
	// From is the source entity name.
	From string `json:"from"`

	// To is the target entity name.
	To string `json:"to"`

	// RelationType describes the edge (e.g. "works_on", "depends_on").
	RelationType string `json:"relationType"`

	// Strength expresses how strong the relation is, in [0,1]. Optional.
	Strength *float64 `json:"strength,omitempty"`

	// Confidence expresses how certain the relation is, in [0,1]. Optional.
	Confidence *float64 `json:"confidence,omitempty"`

	// Metadata carries provenance and bookkeeping fields. Optional.
	Metadata *RelationMetadata `json:"metadata,omitempty"`
}

// RelationMetadata holds provenance information for a relation.
type RelationMetadata struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// InferredFrom lists the relation version IDs this relation was
	// inferred from, when it was derived rather than asserted.
	InferredFrom []string `json:"inferredFrom,omitempty"`

	// LastAccessed is when the relation was last read, if tracked.
	LastAccessed *time.Time `json:"lastAccessed,omitempty"`

	// Extra carries open caller-defined fields.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Key returns the identity triple in a stable printable form.
func (r *Relation) Key() string {
	return r.From + "|" + r.RelationType + "|" + r.To
}

// TemporalRelation is an immutable versioned snapshot of a relation,
// mirroring TemporalEntity.
type TemporalRelation struct {
	Relation

	// ID is an opaque identifier for this specific version row.
	ID string `json:"id"`

	// Version is the monotonically increasing version number (>= 1).
	Version int `json:"version"`

	// CreatedAt is when the logical relation was first created.
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

// Current reports whether this version is the live one.
func (r *TemporalRelation) Current() bool {
	return r.ValidTo == nil
}

// ValidAt reports whether t falls inside this version's [ValidFrom, ValidTo)
// interval. An open-ended ValidTo is treated as "still valid".
func (r *TemporalRelation) ValidAt(t time.Time) bool {
	if t.Before(r.ValidFrom) {
		return false
	}
	return r.ValidTo == nil || t.Before(*r.ValidTo)
}
