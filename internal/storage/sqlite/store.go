// Package sqlite implements the knowledge-graph storage interfaces over an
// embedded SQLite database. It is the file-based fallback backend; the
// postgres package is the primary one. Both are selected once at startup.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// Schema creates the versioned entity and relation tables.
//
// Timestamps are stored as UTC unix nanoseconds so validity-interval
// comparisons are exact integer comparisons. A NULL valid_to marks the
// current (live) version of an identity; history rows keep closed intervals
// forever.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	entity_type          TEXT NOT NULL,
	observations         TEXT NOT NULL,
	version              INTEGER NOT NULL,
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL,
	valid_from           INTEGER NOT NULL,
	valid_to             INTEGER,
	changed_by           TEXT NOT NULL DEFAULT '',
	embedding            BLOB,
	embedding_model      TEXT,
	embedding_updated_at INTEGER,
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
	strength      REAL,
	confidence    REAL,
	metadata      TEXT,
	version       INTEGER NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	valid_from    INTEGER NOT NULL,
	valid_to      INTEGER,
	changed_by    TEXT NOT NULL DEFAULT '',
	UNIQUE(from_entity, to_entity, relation_type, version)
);

CREATE INDEX IF NOT EXISTS idx_relations_current ON relations(from_entity, to_entity, relation_type) WHERE valid_to IS NULL;
CREATE INDEX IF NOT EXISTS idx_relations_interval ON relations(valid_from, valid_to);
`

// Store implements storage.GraphStore, storage.TemporalReader, and
// storage.VectorStore over SQLite.
type Store struct {
	db *sql.DB
}

// Compile-time capability assertions.
var (
	_ storage.GraphStore     = (*Store)(nil)
	_ storage.TemporalReader = (*Store)(nil)
	_ storage.VectorStore    = (*Store)(nil)
)

// NewStore opens (or creates) a SQLite database at dsn and initializes the
// schema. Use ":memory:" for tests.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", storage.ErrStorageUnavailable, err)
	}

	// SQLite supports one concurrent writer. A single open connection
	// serialises writes, which also makes per-identity version increments
	// atomic without additional locking. WAL mode lets readers proceed
	// without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", storage.ErrStorageUnavailable, pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const entityColumns = `
	id, name, entity_type, observations, version,
	created_at, updated_at, valid_from, valid_to, changed_by,
	embedding, embedding_model, embedding_updated_at, embedded_version
`

const relationColumns = `
	id, from_entity, to_entity, relation_type, strength, confidence, metadata,
	version, created_at, updated_at, valid_from, valid_to, changed_by
`

// CreateEntity creates an entity, or merges into the existing one when merge
// is true. Merge unions observations (deduplicated, order preserved) and is
// an idempotent upsert: re-sending identical content produces no new version.
func (s *Store) CreateEntity(ctx context.Context, entity types.Entity, merge bool, changedBy string) (*types.TemporalEntity, error) {
	if err := storage.ValidateEntity(&entity); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", storage.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

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
		sameType := entity.EntityType == current.EntityType
		if sameType && len(merged) == len(current.Observations) {
			// Nothing changed: idempotent upsert, return the current version.
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
		`SELECT `+entityColumns+` FROM entities WHERE name = ? AND valid_to IS NULL`, name)
	return scanEntity(row)
}

// UpdateEntity writes version n+1 of the named entity, closing the previous
// version's interval at the supersession time.
func (s *Store) UpdateEntity(ctx context.Context, name string, mutate storage.EntityMutation, changedBy string) (*types.TemporalEntity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", storage.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

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

// DeleteEntity closes the current version's validity interval and does the
// same for every live relation touching the entity. History stays readable.
func (s *Store) DeleteEntity(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", storage.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().UnixNano()
	res, err := tx.ExecContext(ctx,
		`UPDATE entities SET valid_to = ? WHERE name = ? AND valid_to IS NULL`, now, name)
	if err != nil {
		return fmt.Errorf("delete entity %q: %w", name, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: entity %q", storage.ErrNotFound, name)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE relations SET valid_to = ? WHERE (from_entity = ? OR to_entity = ?) AND valid_to IS NULL`,
		now, name, name); err != nil {
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
			lower(name) LIKE ? OR lower(entity_type) LIKE ? OR lower(observations) LIKE ?
		) ORDER BY name`
	args := []interface{}{pattern, pattern, pattern}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search entities %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntities(rows)
}

// CreateRelation creates version 1 of a relation. Duplicate live triples are
// rejected outright: relation identity is the full (from, to, type) triple,
// so re-creating it is a caller bug, unlike the entity upsert path.
func (s *Store) CreateRelation(ctx context.Context, rel types.Relation, changedBy string) (*types.TemporalRelation, error) {
	if err := storage.ValidateRelation(&rel); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", storage.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, endpoint := range []string{rel.From, rel.To} {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM entities WHERE name = ? AND valid_to IS NULL`, endpoint).Scan(&one)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: entity %q", storage.ErrNotFound, endpoint)
		}
		if err != nil {
			return nil, fmt.Errorf("check endpoint %q: %w", endpoint, err)
		}
	}

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM relations WHERE from_entity = ? AND to_entity = ? AND relation_type = ? AND valid_to IS NULL`,
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
		WHERE from_entity = ? AND to_entity = ? AND relation_type = ? AND valid_to IS NULL`,
		from, to, relationType)
	return scanRelation(row)
}

// UpdateRelation writes the next version of the identified relation.
func (s *Store) UpdateRelation(ctx context.Context, from, to, relationType string, mutate storage.RelationMutation, changedBy string) (*types.TemporalRelation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", storage.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+relationColumns+` FROM relations
		WHERE from_entity = ? AND to_entity = ? AND relation_type = ? AND valid_to IS NULL`,
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
	// The identity triple is immutable across versions.
	next.From, next.To, next.RelationType = current.From, current.To, current.RelationType

	if _, err := tx.ExecContext(ctx,
		`UPDATE relations SET valid_to = ? WHERE id = ?`, now.UnixNano(), current.ID); err != nil {
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

// DeleteRelation closes the current version's validity interval.
func (s *Store) DeleteRelation(ctx context.Context, from, to, relationType string) error {
	now := time.Now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`UPDATE relations SET valid_to = ?
		WHERE from_entity = ? AND to_entity = ? AND relation_type = ? AND valid_to IS NULL`,
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
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	q := `SELECT ` + relationColumns + ` FROM relations
		WHERE valid_to IS NULL
		AND from_entity IN (` + placeholders + `)
		AND to_entity IN (` + placeholders + `)
		ORDER BY from_entity, to_entity, relation_type`

	args := make([]interface{}, 0, 2*len(names))
	for _, n := range names {
		args = append(args, n)
	}
	for _, n := range names {
		args = append(args, n)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("relations for entities: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRelations(rows)
}

// getCurrentEntityTx loads an entity's live version inside a transaction.
func getCurrentEntityTx(ctx context.Context, tx *sql.Tx, name string) (*types.TemporalEntity, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name = ? AND valid_to IS NULL`, name)
	return scanEntity(row)
}

// supersedeEntityTx closes current's interval and inserts the next version in
// one transaction. The new version's validFrom equals the previous version's
// validTo (the supersession time).
func supersedeEntityTx(ctx context.Context, tx *sql.Tx, current *types.TemporalEntity, mutate storage.EntityMutation, changedBy string, now time.Time) (*types.TemporalEntity, error) {
	next := *current
	next.Observations = append([]string(nil), current.Observations...)
	if err := mutate(&next.Entity); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrValidation, err)
	}
	if err := storage.ValidateEntity(&next.Entity); err != nil {
		return nil, err
	}
	// Identity is the name; a mutation may not rename.
	next.Name = current.Name

	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET valid_to = ? WHERE id = ?`, now.UnixNano(), current.ID); err != nil {
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

	// Carry the previous version's vector forward unchanged, still tagged
	// with the version it was computed from. Repair and the index rebuild
	// can then tell it is stale (embedded_version < version) while search
	// keeps a usable vector until the worker refreshes it.
	if _, err := tx.ExecContext(ctx, `
		UPDATE entities SET
			embedding            = (SELECT embedding FROM entities WHERE id = ?1),
			embedding_model      = (SELECT embedding_model FROM entities WHERE id = ?1),
			embedding_updated_at = (SELECT embedding_updated_at FROM entities WHERE id = ?1),
			embedded_version     = (SELECT embedded_version FROM entities WHERE id = ?1)
		WHERE id = ?2`, current.ID, next.ID); err != nil {
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

	var embBlob []byte
	var embModel sql.NullString
	var embUpdated, embVersion sql.NullInt64
	if e.Embedding != nil {
		embBlob = serializeVector(e.Embedding.Vector)
		embModel = sql.NullString{String: e.Embedding.Model, Valid: true}
		embUpdated = sql.NullInt64{Int64: e.Embedding.LastUpdated.UnixNano(), Valid: true}
		embVersion = sql.NullInt64{Int64: int64(e.Version), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (
			id, name, entity_type, observations, version,
			created_at, updated_at, valid_from, valid_to, changed_by,
			embedding, embedding_model, embedding_updated_at, embedded_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.EntityType, string(obs), e.Version,
		e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano(), e.ValidFrom.UnixNano(), e.ChangedBy,
		embBlob, embModel, embUpdated, embVersion)
	if err != nil {
		return fmt.Errorf("insert entity %q v%d: %w", e.Name, e.Version, err)
	}
	return nil
}

func insertRelationTx(ctx context.Context, tx *sql.Tx, r *types.TemporalRelation) error {
	var meta []byte
	if r.Metadata != nil {
		var err error
		meta, err = json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal relation metadata: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO relations (
			id, from_entity, to_entity, relation_type, strength, confidence, metadata,
			version, created_at, updated_at, valid_from, valid_to, changed_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		r.ID, r.From, r.To, r.RelationType, nullFloat(r.Strength), nullFloat(r.Confidence), nullString(meta),
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

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
