// Package postgres implements the knowledge-graph storage interfaces over
// PostgreSQL with the pgvector extension. It is the primary backend; the
// sqlite package is the embedded file-based fallback.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// schemaTemplate creates the versioned entity and relation tables. The
// embedding column dimensionality is fixed at store construction to the
// configured model dimensions, so a mis-sized vector is rejected by the
// database as well as by the application layer.
//
// Timestamps are stored as UTC unix nanoseconds (BIGINT) so validity-interval
// comparisons are exact and identical to the sqlite backend's.
const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS entities (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	entity_type          TEXT NOT NULL,
	observations         JSONB NOT NULL,
	version              INTEGER NOT NULL,
	created_at           BIGINT NOT NULL,
	updated_at           BIGINT NOT NULL,
	valid_from           BIGINT NOT NULL,
	valid_to             BIGINT,
	changed_by           TEXT NOT NULL DEFAULT '',
	embedding            vector(%d),
	embedding_model      TEXT,
	embedding_updated_at BIGINT,
	embedded_version     INTEGER,
	UNIQUE(name, version)
);

CREATE INDEX IF NOT EXISTS idx_entities_current ON entities(name) WHERE valid_to IS NULL;
CREATE INDEX IF NOT EXISTS idx_entities_interval ON entities(valid_from, valid_to);

CREATE TABLE IF NOT EXISTS relations (
	id            TEXT PRIMARY KEY,
	from_entity   TEXT NOT NULL,
	to_entity     TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	strength      DOUBLE PRECISION,
	confidence    DOUBLE PRECISION,
	metadata      JSONB,
	version       INTEGER NOT NULL,
	created_at    BIGINT NOT NULL,
	updated_at    BIGINT NOT NULL,
	valid_from    BIGINT NOT NULL,
	valid_to      BIGINT,
	changed_by    TEXT NOT NULL DEFAULT '',
	UNIQUE(from_entity, to_entity, relation_type, version)
);

CREATE INDEX IF NOT EXISTS idx_relations_current ON relations(from_entity, to_entity, relation_type) WHERE valid_to IS NULL;
CREATE INDEX IF NOT EXISTS idx_relations_interval ON relations(valid_from, valid_to);
`

// Store implements storage.GraphStore, storage.TemporalReader, and
// storage.VectorStore over PostgreSQL + pgvector.
type Store struct {
	db         *sql.DB
	dimensions int
}

// Compile-time capability assertions.
var (
	_ storage.GraphStore     = (*Store)(nil)
	_ storage.TemporalReader = (*Store)(nil)
	_ storage.VectorStore    = (*Store)(nil)
)

// NewStore connects to PostgreSQL at dsn and initializes the schema with the
// given embedding dimensionality. The pgvector extension is required: the
// primary backend is expected to be provisioned with it.
func NewStore(dsn string, dimensions int) (*Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: embedding dimensions must be positive", storage.ErrValidation)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", storage.ErrStorageUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", storage.ErrStorageUnavailable, err)
	}

	if _, err := db.Exec(fmt.Sprintf(schemaTemplate, dimensions)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema (is pgvector installed?): %w", err)
	}

	return &Store{db: db, dimensions: dimensions}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const entityColumns = `
	id, name, entity_type, observations, version,
	created_at, updated_at, valid_from, valid_to, changed_by,
	embedding::text, embedding_model, embedding_updated_at
`

const relationColumns = `
	id, from_entity, to_entity, relation_type, strength, confidence, metadata,
	version, created_at, updated_at, valid_from, valid_to, changed_by
`

// CreateEntity creates an entity, or merges into the existing one when merge
// is true. The per-identity version increment is serialized with a
// transaction-scoped advisory lock on the entity name.
func (s *Store) CreateEntity(ctx context.Context, entity types.Entity, merge bool, changedBy string) (*types.TemporalEntity, error) {
	if err := storage.ValidateEntity(&entity); err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockKey(ctx, tx, "entity:"+entity.Name); err != nil {
		return nil, err
	}

	current, err := getCurrentEntityTx(ctx, tx, entity.Name)
	if err != nil && err != storage.ErrNotFound {
		return nil, err
	}

	now := time.Now().UTC()

	if current != nil {
		if !merge {
			return nil, fmt.Errorf("%w: entity %q", storage.ErrDuplicateKey, entity.Name)
		}
		merged := storage.UnionObservations(current.Observations, entity.Observations)
		if entity.EntityType == current.EntityType && len(merged) == len(current.Observations) {
			return current, nil
		}
		next, err := supersedeEntityTx(ctx, tx, current, func(e *types.Entity) error {
			e.EntityType = entity.EntityType
			e.Observations = merged
			return nil
		}, changedBy, now)
		if err != nil {
			return nil, err
		}
		return next, tx.Commit()
	}

	created := &types.TemporalEntity{
		Entity: types.Entity{
			Name:         entity.Name,
			EntityType:   entity.EntityType,
			Observations: append([]string(nil), entity.Observations...),
		},
		ID:        uuid.New().String(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		ValidFrom: now,
		ChangedBy: changedBy,
	}
	if err := insertEntityTx(ctx, tx, created); err != nil {
		return nil, err
	}
	return created, tx.Commit()
}

// GetEntity returns the current version of the named entity.
func (s *Store) GetEntity(ctx context.Context, name string) (*types.TemporalEntity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name = $1 AND valid_to IS NULL`, name)
	return scanEntity(row)
}

// UpdateEntity writes version n+1 of the named entity.
func (s *Store) UpdateEntity(ctx context.Context, name string, mutate storage.EntityMutation, changedBy string) (*types.TemporalEntity, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockKey(ctx, tx, "entity:"+name); err != nil {
		return nil, err
	}

	current, err := getCurrentEntityTx(ctx, tx, name)
	if err != nil {
		return nil, err
	}

	next, err := supersedeEntityTx(ctx, tx, current, mutate, changedBy, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return next, tx.Commit()
}

// DeleteEntity closes the current version's interval along with the
// intervals of every live relation touching the entity.
func (s *Store) DeleteEntity(ctx context.Context, name string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockKey(ctx, tx, "entity:"+name); err != nil {
		return err
	}

	now := time.Now().UTC().UnixNano()
	res, err := tx.ExecContext(ctx,
		`UPDATE entities SET valid_to = $1 WHERE name = $2 AND valid_to IS NULL`, now, name)
	if err != nil {
		return fmt.Errorf("delete entity %q: %w", name, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: entity %q", storage.ErrNotFound, name)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE relations SET valid_to = $1 WHERE (from_entity = $2 OR to_entity = $2) AND valid_to IS NULL`,
		now, name); err != nil {
		return fmt.Errorf("delete relations of %q: %w", name, err)
	}

	return tx.Commit()
}

// ListEntities returns the current version of every live entity.
func (s *Store) ListEntities(ctx context.Context) ([]types.TemporalEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE valid_to IS NULL ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntities(rows)
}

// SearchEntities performs case-insensitive substring search over name, type,
// and observations of current entity versions.
func (s *Store) SearchEntities(ctx context.Context, query string, limit int) ([]types.TemporalEntity, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	q := `SELECT ` + entityColumns + ` FROM entities
		WHERE valid_to IS NULL AND (
			lower(name) LIKE $1 OR lower(entity_type) LIKE $1 OR lower(observations::text) LIKE $1
		) ORDER BY name`
	args := []interface{}{pattern}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search entities %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntities(rows)
}

// CreateRelation creates version 1 of a relation; duplicate live triples are
// rejected with ErrDuplicateKey.
func (s *Store) CreateRelation(ctx context.Context, rel types.Relation, changedBy string) (*types.TemporalRelation, error) {
	if err := storage.ValidateRelation(&rel); err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockKey(ctx, tx, "relation:"+rel.Key()); err != nil {
		return nil, err
	}

	for _, endpoint := range []string{rel.From, rel.To} {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM entities WHERE name = $1 AND valid_to IS NULL`, endpoint).Scan(&one)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: entity %q", storage.ErrNotFound, endpoint)
		}
		if err != nil {
			return nil, fmt.Errorf("check endpoint %q: %w", endpoint, err)
		}
	}

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM relations WHERE from_entity = $1 AND to_entity = $2 AND relation_type = $3 AND valid_to IS NULL`,
		rel.From, rel.To, rel.RelationType).Scan(&one)
	if err == nil {
		return nil, fmt.Errorf("%w: relation %s", storage.ErrDuplicateKey, rel.Key())
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check relation %s: %w", rel.Key(), err)
	}

	now := time.Now().UTC()
	if rel.Metadata == nil {
		rel.Metadata = &types.RelationMetadata{}
	}
	rel.Metadata.CreatedAt = now
	rel.Metadata.UpdatedAt = now

	created := &types.TemporalRelation{
		Relation:  rel,
		ID:        uuid.New().String(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		ValidFrom: now,
		ChangedBy: changedBy,
	}
	if err := insertRelationTx(ctx, tx, created); err != nil {
		return nil, err
	}
	return created, tx.Commit()
}

// GetRelation returns the current version of the identified relation.
func (s *Store) GetRelation(ctx context.Context, from, to, relationType string) (*types.TemporalRelation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+relationColumns+` FROM relations
		WHERE from_entity = $1 AND to_entity = $2 AND relation_type = $3 AND valid_to IS NULL`,
		from, to, relationType)
	return scanRelation(row)
}

// UpdateRelation writes the next version of the identified relation.
func (s *Store) UpdateRelation(ctx context.Context, from, to, relationType string, mutate storage.RelationMutation, changedBy string) (*types.TemporalRelation, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockKey(ctx, tx, "relation:"+from+"|"+relationType+"|"+to); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+relationColumns+` FROM relations
		WHERE from_entity = $1 AND to_entity = $2 AND relation_type = $3 AND valid_to IS NULL`,
		from, to, relationType)
	current, err := scanRelation(row)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next := *current
	if err := mutate(&next.Relation); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrValidation, err)
	}
	if err := storage.ValidateRelation(&next.Relation); err != nil {
		return nil, err
	}
	next.From, next.To, next.RelationType = current.From, current.To, current.RelationType

	if _, err := tx.ExecContext(ctx,
		`UPDATE relations SET valid_to = $1 WHERE id = $2`, now.UnixNano(), current.ID); err != nil {
		return nil, fmt.Errorf("close relation version: %w", err)
	}

	next.ID = uuid.New().String()
	next.Version = current.Version + 1
	next.UpdatedAt = now
	next.ValidFrom = now
	next.ValidTo = nil
	next.ChangedBy = changedBy
	if next.Metadata == nil {
		next.Metadata = &types.RelationMetadata{CreatedAt: current.CreatedAt}
	}
	next.Metadata.UpdatedAt = now

	if err := insertRelationTx(ctx, tx, &next); err != nil {
		return nil, err
	}
	return &next, tx.Commit()
}

// DeleteRelation closes the current version's interval.
func (s *Store) DeleteRelation(ctx context.Context, from, to, relationType string) error {
	now := time.Now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`UPDATE relations SET valid_to = $1
		WHERE from_entity = $2 AND to_entity = $3 AND relation_type = $4 AND valid_to IS NULL`,
		now, from, to, relationType)
	if err != nil {
		return fmt.Errorf("delete relation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: relation %s|%s|%s", storage.ErrNotFound, from, relationType, to)
	}
	return nil
}

// ListRelations returns the current version of every live relation.
func (s *Store) ListRelations(ctx context.Context) ([]types.TemporalRelation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationColumns+` FROM relations WHERE valid_to IS NULL ORDER BY from_entity, to_entity, relation_type`)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRelations(rows)
}

// RelationsForEntities returns live relations with both endpoints in names.
func (s *Store) RelationsForEntities(ctx context.Context, names []string) ([]types.TemporalRelation, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationColumns+` FROM relations
		WHERE valid_to IS NULL
		AND from_entity = ANY($1) AND to_entity = ANY($1)
		ORDER BY from_entity, to_entity, relation_type`,
		pqStringArray(names))
	if err != nil {
		return nil, fmt.Errorf("relations for entities: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRelations(rows)
}

// GetEntityHistory returns every version of the named entity, oldest first.
func (s *Store) GetEntityHistory(ctx context.Context, name string) ([]types.TemporalEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name = $1 ORDER BY version ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("entity history %q: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	history, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: entity %q", storage.ErrNotFound, name)
	}
	return history, nil
}

// GetRelationHistory returns every version of the identified relation,
// oldest first.
func (s *Store) GetRelationHistory(ctx context.Context, from, to, relationType string) ([]types.TemporalRelation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationColumns+` FROM relations
		WHERE from_entity = $1 AND to_entity = $2 AND relation_type = $3
		ORDER BY version ASC`, from, to, relationType)
	if err != nil {
		return nil, fmt.Errorf("relation history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	history, err := scanRelations(rows)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: relation %s|%s|%s", storage.ErrNotFound, from, relationType, to)
	}
	return history, nil
}

// GraphAtTime reconstructs the graph snapshot at t.
func (s *Store) GraphAtTime(ctx context.Context, t time.Time) (*types.KnowledgeGraph, error) {
	nanos := t.UTC().UnixNano()

	entityRows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities
		WHERE valid_from <= $1 AND (valid_to IS NULL OR valid_to > $1)
		ORDER BY name`, nanos)
	if err != nil {
		return nil, fmt.Errorf("graph at time (entities): %w", err)
	}
	defer func() { _ = entityRows.Close() }()

	entities, err := scanEntities(entityRows)
	if err != nil {
		return nil, err
	}

	relationRows, err := s.db.QueryContext(ctx,
		`SELECT `+relationColumns+` FROM relations
		WHERE valid_from <= $1 AND (valid_to IS NULL OR valid_to > $1)
		ORDER BY from_entity, to_entity, relation_type`, nanos)
	if err != nil {
		return nil, fmt.Errorf("graph at time (relations): %w", err)
	}
	defer func() { _ = relationRows.Close() }()

	relations, err := scanRelations(relationRows)
	if err != nil {
		return nil, err
	}

	graph := &types.KnowledgeGraph{
		Entities:  make([]types.Entity, 0, len(entities)),
		Relations: make([]types.Relation, 0, len(relations)),
	}
	for _, e := range entities {
		graph.Entities = append(graph.Entities, e.Entity)
	}
	for _, r := range relations {
		graph.Relations = append(graph.Relations, r.Relation)
	}
	graph.Total = len(graph.Entities)
	return graph, nil
}

func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", storage.ErrStorageUnavailable, err)
	}
	return tx, nil
}

// lockKey takes a transaction-scoped advisory lock keyed by a stable hash of
// key, serializing version increments per identity across connections.
func lockKey(ctx context.Context, tx *sql.Tx, key string) error {
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("advisory lock %q: %w", key, err)
	}
	return nil
}

func getCurrentEntityTx(ctx context.Context, tx *sql.Tx, name string) (*types.TemporalEntity, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name = $1 AND valid_to IS NULL`, name)
	return scanEntity(row)
}

func supersedeEntityTx(ctx context.Context, tx *sql.Tx, current *types.TemporalEntity, mutate storage.EntityMutation, changedBy string, now time.Time) (*types.TemporalEntity, error) {
	next := *current
	next.Observations = append([]string(nil), current.Observations...)
	if err := mutate(&next.Entity); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrValidation, err)
	}
	if err := storage.ValidateEntity(&next.Entity); err != nil {
		return nil, err
	}
	next.Name = current.Name

	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET valid_to = $1 WHERE id = $2`, now.UnixNano(), current.ID); err != nil {
		return nil, fmt.Errorf("close entity version: %w", err)
	}

	next.ID = uuid.New().String()
	next.Version = current.Version + 1
	next.UpdatedAt = now
	next.ValidFrom = now
	next.ValidTo = nil
	next.ChangedBy = changedBy
	next.Embedding = nil

	if err := insertEntityTx(ctx, tx, &next); err != nil {
		return nil, err
	}

	// Carry the previous version's vector forward, still tagged with the
	// version it was computed from, so repair can tell it is stale.
	if _, err := tx.ExecContext(ctx, `
		UPDATE entities SET
			embedding            = prev.embedding,
			embedding_model      = prev.embedding_model,
			embedding_updated_at = prev.embedding_updated_at,
			embedded_version     = prev.embedded_version
		FROM (SELECT embedding, embedding_model, embedding_updated_at, embedded_version
		      FROM entities WHERE id = $1) AS prev
		WHERE entities.id = $2`, current.ID, next.ID); err != nil {
		return nil, fmt.Errorf("carry embedding forward: %w", err)
	}
	next.Embedding = current.Embedding

	return &next, nil
}

func insertEntityTx(ctx context.Context, tx *sql.Tx, e *types.TemporalEntity) error {
	obs, err := json.Marshal(e.Observations)
	if err != nil {
		return fmt.Errorf("marshal observations: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (
			id, name, entity_type, observations, version,
			created_at, updated_at, valid_from, valid_to, changed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9)`,
		e.ID, e.Name, e.EntityType, string(obs), e.Version,
		e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano(), e.ValidFrom.UnixNano(), e.ChangedBy)
	if err != nil {
		return fmt.Errorf("insert entity %q v%d: %w", e.Name, e.Version, err)
	}
	return nil
}

func insertRelationTx(ctx context.Context, tx *sql.Tx, r *types.TemporalRelation) error {
	var meta interface{}
	if r.Metadata != nil {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal relation metadata: %w", err)
		}
		meta = string(b)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO relations (
			id, from_entity, to_entity, relation_type, strength, confidence, metadata,
			version, created_at, updated_at, valid_from, valid_to, changed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, $12)`,
		r.ID, r.From, r.To, r.RelationType, nullFloat(r.Strength), nullFloat(r.Confidence), meta,
		r.Version, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(), r.ValidFrom.UnixNano(), r.ChangedBy)
	if err != nil {
		return fmt.Errorf("insert relation %s v%d: %w", r.Key(), r.Version, err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
