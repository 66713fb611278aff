package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// StoreEmbedding writes emb onto the entity's current version row, tagged
// with the content version it was computed from. Writes for superseded
// content versions return ErrSuperseded and leave the row untouched, which
// linearizes embedding writes as last-writer-wins by version.
func (s *Store) StoreEmbedding(ctx context.Context, entityName string, emb types.EntityEmbedding, contentVersion int) error {
	if len(emb.Vector) == 0 {
		return fmt.Errorf("%w: empty vector for %q", storage.ErrValidation, entityName)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", storage.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT id, version FROM entities WHERE name = ? AND valid_to IS NULL`, entityName).
		Scan(&id, &version)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: entity %q", storage.ErrNotFound, entityName)
	}
	if err != nil {
		return fmt.Errorf("load current version of %q: %w", entityName, err)
	}

	if version > contentVersion {
		return fmt.Errorf("%w: %q is at v%d, embedding computed from v%d",
			storage.ErrSuperseded, entityName, version, contentVersion)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE entities
		SET embedding = ?, embedding_model = ?, embedding_updated_at = ?, embedded_version = ?
		WHERE id = ?`,
		serializeVector(emb.Vector), emb.Model, emb.LastUpdated.UTC().UnixNano(), contentVersion, id); err != nil {
		return fmt.Errorf("store embedding for %q: %w", entityName, err)
	}

	return tx.Commit()
}

// GetEmbedding returns the current embedding for the entity. ErrNotFound is
// returned both for a missing entity and for an entity with no vector yet.
func (s *Store) GetEmbedding(ctx context.Context, entityName string) (*types.EntityEmbedding, error) {
	var blob []byte
	var model sql.NullString
	var updated sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT embedding, embedding_model, embedding_updated_at
		FROM entities WHERE name = ? AND valid_to IS NULL`, entityName).
		Scan(&blob, &model, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %q", storage.ErrNotFound, entityName)
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding for %q: %w", entityName, err)
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: no embedding for %q", storage.ErrNotFound, entityName)
	}

	emb := &types.EntityEmbedding{
		Vector: deserializeVector(blob),
		Model:  model.String,
	}
	if updated.Valid {
		emb.LastUpdated = fromNanos(updated.Int64)
	}
	return emb, nil
}

// ListEmbeddings returns one record per live entity, marking entities whose
// vector is missing or was computed from a superseded version as stale.
// Used to rebuild the in-process vector index at startup.
func (s *Store) ListEmbeddings(ctx context.Context) ([]storage.EmbeddingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, entity_type, version, embedding, embedding_model, embedding_updated_at, embedded_version
		FROM entities WHERE valid_to IS NULL ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.EmbeddingRecord
	for rows.Next() {
		var (
			rec        storage.EmbeddingRecord
			version    int
			blob       []byte
			model      sql.NullString
			updated    sql.NullInt64
			embVersion sql.NullInt64
		)
		if err := rows.Scan(&rec.EntityName, &rec.EntityType, &version, &blob, &model, &updated, &embVersion); err != nil {
			return nil, fmt.Errorf("scan embedding record: %w", err)
		}

		if len(blob) == 0 || !embVersion.Valid {
			rec.Stale = true
			rec.ContentVersion = version
		} else {
			rec.ContentVersion = int(embVersion.Int64)
			rec.Stale = int(embVersion.Int64) < version
			rec.Embedding = types.EntityEmbedding{
				Vector: deserializeVector(blob),
				Model:  model.String,
			}
			if updated.Valid {
				rec.Embedding.LastUpdated = fromNanos(updated.Int64)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding records: %w", err)
	}
	return out, nil
}
