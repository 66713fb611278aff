package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// GetEntityHistory returns every version of the named entity, oldest first.
func (s *Store) GetEntityHistory(ctx context.Context, name string) ([]types.TemporalEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name = ? ORDER BY version ASC`, name)
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
		WHERE from_entity = ? AND to_entity = ? AND relation_type = ?
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

// GraphAtTime reconstructs the graph snapshot at t. For each identity the
// version whose [validFrom, validTo) interval contains t is selected; an open
// validTo counts as still valid. Identities created after t are absent.
func (s *Store) GraphAtTime(ctx context.Context, t time.Time) (*types.KnowledgeGraph, error) {
	nanos := t.UTC().UnixNano()

	entityRows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities
		WHERE valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)
		ORDER BY name`, nanos, nanos)
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
		WHERE valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)
		ORDER BY from_entity, to_entity, relation_type`, nanos, nanos)
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
