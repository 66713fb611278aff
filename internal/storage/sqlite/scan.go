package sqlite

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*types.TemporalEntity, error) {
	var (
		e          types.TemporalEntity
		obsJSON    string
		createdAt  int64
		updatedAt  int64
		validFrom  int64
		validTo    sql.NullInt64
		embBlob    []byte
		embModel   sql.NullString
		embUpdated sql.NullInt64
		embVersion sql.NullInt64
	)

	err := row.Scan(
		&e.ID, &e.Name, &e.EntityType, &obsJSON, &e.Version,
		&createdAt, &updatedAt, &validFrom, &validTo, &e.ChangedBy,
		&embBlob, &embModel, &embUpdated, &embVersion,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entity: %w", err)
	}

	if err := json.Unmarshal([]byte(obsJSON), &e.Observations); err != nil {
		return nil, fmt.Errorf("unmarshal observations for %q: %w", e.Name, err)
	}

	e.CreatedAt = fromNanos(createdAt)
	e.UpdatedAt = fromNanos(updatedAt)
	e.ValidFrom = fromNanos(validFrom)
	if validTo.Valid {
		t := fromNanos(validTo.Int64)
		e.ValidTo = &t
	}

	if len(embBlob) > 0 {
		e.Embedding = &types.EntityEmbedding{
			Vector: deserializeVector(embBlob),
			Model:  embModel.String,
		}
		if embUpdated.Valid {
			e.Embedding.LastUpdated = fromNanos(embUpdated.Int64)
		}
	}

	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]types.TemporalEntity, error) {
	var out []types.TemporalEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

func scanRelation(row rowScanner) (*types.TemporalRelation, error) {
	var (
		r          types.TemporalRelation
		strength   sql.NullFloat64
		confidence sql.NullFloat64
		metaJSON   sql.NullString
		createdAt  int64
		updatedAt  int64
		validFrom  int64
		validTo    sql.NullInt64
	)

	err := row.Scan(
		&r.ID, &r.From, &r.To, &r.RelationType, &strength, &confidence, &metaJSON,
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
	if confidence.Valid {
		v := confidence.Float64
		r.Confidence = &v
	}
	if metaJSON.Valid && metaJSON.String != "" {
		r.Metadata = &types.RelationMetadata{}
		if err := json.Unmarshal([]byte(metaJSON.String), r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal relation metadata for %s: %w", r.Key(), err)
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
	var out []types.TemporalRelation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}
	return out, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// serializeVector encodes a float32 vector as a little-endian BLOB.
func serializeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector decodes a little-endian BLOB back into a float32 vector.
func deserializeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
