package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*types.TemporalEntity, error) {
	var (
		e              types.TemporalEntity
		observations   []byte
		createdAt      int64
		updatedAt      int64
		validFrom      int64
		validTo        sql.NullInt64
		embeddingText  sql.NullString
		embeddingModel sql.NullString
		embeddingNanos sql.NullInt64
	)

	err := row.Scan(
		&e.ID, &e.Name, &e.EntityType, &observations, &e.Version,
		&createdAt, &updatedAt, &validFrom, &validTo, &e.ChangedBy,
		&embeddingText, &embeddingModel, &embeddingNanos,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entity: %w", err)
	}

	if err := json.Unmarshal(observations, &e.Observations); err != nil {
		return nil, fmt.Errorf("unmarshal observations: %w", err)
	}

	e.CreatedAt = fromNanos(createdAt)
	e.UpdatedAt = fromNanos(updatedAt)
	e.ValidFrom = fromNanos(validFrom)
	if validTo.Valid {
		t := fromNanos(validTo.Int64)
		e.ValidTo = &t
	}

	if embeddingText.Valid && embeddingText.String != "" {
		var vec pgvector.Vector
		if err := vec.Scan([]byte(embeddingText.String)); err != nil {
			return nil, fmt.Errorf("parse embedding of %q: %w", e.Name, err)
		}
		e.Embedding = &types.EntityEmbedding{
			Vector: vec.Slice(),
			Model:  embeddingModel.String,
		}
		if embeddingNanos.Valid {
			e.Embedding.LastUpdated = fromNanos(embeddingNanos.Int64)
		}
	}

	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]types.TemporalEntity, error) {
	var entities []types.TemporalEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

func scanRelation(row rowScanner) (*types.TemporalRelation, error) {
	var (
		r         types.TemporalRelation
		strength  sql.NullFloat64
		conf      sql.NullFloat64
		metadata  []byte
		createdAt int64
		updatedAt int64
		validFrom int64
		validTo   sql.NullInt64
	)

	err := row.Scan(
		&r.ID, &r.From, &r.To, &r.RelationType, &strength, &conf, &metadata,
		&r.Version, &createdAt, &updatedAt, &validFrom, &validTo, &r.ChangedBy,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan relation: %w", err)
	}

	if strength.Valid {
		v := strength.Float64
		r.Strength = &v
	}
	if conf.Valid {
		v := conf.Float64
		r.Confidence = &v
	}
	if len(metadata) > 0 {
		r.Metadata = &types.RelationMetadata{}
		if err := json.Unmarshal(metadata, r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal relation metadata: %w", err)
		}
	}

	r.CreatedAt = fromNanos(createdAt)
	r.UpdatedAt = fromNanos(updatedAt)
	r.ValidFrom = fromNanos(validFrom)
	if validTo.Valid {
		t := fromNanos(validTo.Int64)
		r.ValidTo = &t
	}

	return &r, nil
}

func scanRelations(rows *sql.Rows) ([]types.TemporalRelation, error) {
	var relations []types.TemporalRelation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		relations = append(relations, *r)
	}
	return relations, rows.Err()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func pqStringArray(names []string) interface{} {
	return pq.Array(names)
}
