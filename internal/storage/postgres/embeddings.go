package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// StoreEmbedding attaches a vector to the current version of the named
// entity. contentVersion is the entity version whose text the vector was
// computed from; writes tagged with an older version than the current row
// are rejected with ErrSuperseded so late worker results cannot clobber a
// fresher vector.
func (s *Store) StoreEmbedding(ctx context.Context, entityName string, emb types.EntityEmbedding, contentVersion int) error {
	if len(emb.Vector) != s.dimensions {
		return fmt.Errorf("%w: got %d, store expects %d",
			storage.ErrDimensionMismatch, len(emb.Vector), s.dimensions)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockKey(ctx, tx, "entity:"+entityName); err != nil {
		return err
	}

	var (
		id      string
		version int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, version FROM entities WHERE name = $1 AND valid_to IS NULL`, entityName).
		Scan(&id, &version)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: entity %q", storage.ErrNotFound, entityName)
	}
	if err != nil {
		return fmt.Errorf("load entity for embedding: %w", err)
	}

	if version > contentVersion {
		return fmt.Errorf("%w: entity %q is at v%d, embedding computed from v%d",
			storage.ErrSuperseded, entityName, version, contentVersion)
	}

	updatedAt := emb.LastUpdated
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE entities SET
			embedding            = $1,
			embedding_model      = $2,
			embedding_updated_at = $3,
			embedded_version     = $4
		WHERE id = $5`,
		pgvector.NewVector(emb.Vector), emb.Model, updatedAt.UnixNano(), contentVersion, id); err != nil {
		return fmt.Errorf("store embedding for %q: %w", entityName, err)
	}

	return tx.Commit()
}

// GetEmbedding returns the vector attached to the current version of the
// named entity. ErrNotFound covers both a missing entity and an entity that
// has not been embedded yet.
func (s *Store) GetEmbedding(ctx context.Context, entityName string) (*types.EntityEmbedding, error) {
	entity, err := s.GetEntity(ctx, entityName)
	if err != nil {
		return nil, err
	}
	if entity.Embedding == nil {
		return nil, fmt.Errorf("%w: entity %q has no embedding", storage.ErrNotFound, entityName)
	}
	return entity.Embedding, nil
}

// ListEmbeddings returns the embedding state of every live entity, flagging
// rows whose vector is missing or was computed from a superseded version.
func (s *Store) ListEmbeddings(ctx context.Context) ([]storage.EmbeddingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, entity_type, version, embedding::text, embedding_model, embedding_updated_at, embedded_version
		FROM entities WHERE valid_to IS NULL ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.EmbeddingRecord
	for rows.Next() {
		var (
			rec             storage.EmbeddingRecord
			version         int
			embeddingText   sql.NullString
			model           sql.NullString
			updated         sql.NullInt64
			embeddedVersion sql.NullInt64
		)
		if err := rows.Scan(&rec.EntityName, &rec.EntityType, &version, &embeddingText, &model, &updated, &embeddedVersion); err != nil {
			return nil, fmt.Errorf("scan embedding record: %w", err)
		}

		if !embeddingText.Valid || embeddingText.String == "" {
			rec.Stale = true
			rec.ContentVersion = version
		} else {
			var vec pgvector.Vector
			if err := vec.Scan([]byte(embeddingText.String)); err != nil {
				return nil, fmt.Errorf("parse embedding of %q: %w", rec.EntityName, err)
			}
			rec.ContentVersion = int(embeddedVersion.Int64)
			rec.Stale = int(embeddedVersion.Int64) < version
			rec.Embedding = types.EntityEmbedding{
				Vector: vec.Slice(),
				Model:  model.String,
			}
			if updated.Valid {
				rec.Embedding.LastUpdated = fromNanos(updated.Int64)
			}
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}

// SimilarEntities ranks embedded live entities by cosine similarity to the
// query vector, computed by pgvector inside the database. The search
// pipeline routes its vector branch here whenever the configured store is
// this one; the in-process index serves the SQLite backend.
func (s *Store) SimilarEntities(ctx context.Context, query []float32, limit int, minSimilarity float64) ([]storage.SimilarityMatch, error) {
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("%w: got %d, store expects %d",
			storage.ErrDimensionMismatch, len(query), s.dimensions)
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, entity_type, 1 - (embedding <=> $1) AS similarity
		FROM entities
		WHERE valid_to IS NULL AND embedding IS NOT NULL
		AND 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1, name
		LIMIT $3`,
		pgvector.NewVector(query), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []storage.SimilarityMatch
	for rows.Next() {
		var m storage.SimilarityMatch
		if err := rows.Scan(&m.EntityName, &m.EntityType, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan similarity match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
