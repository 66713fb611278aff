package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/teo-mateo/memento-mcp/internal/vector"
)

// RecoverEmbeddings reconciles the vector index with the store. The index is
// a derived projection, so recovery rebuilds it from the store's embedding
// column and schedules jobs for every entity whose vector is missing or was
// computed from a superseded version. Called during Start so work queued
// before a restart is never lost.
func (c *GraphCoordinator) RecoverEmbeddings(ctx context.Context) error {
	log.Println("[recovery] reconciling vector index with store...")

	records, err := c.vectorStore.ListEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("list embeddings for recovery: %w", err)
	}

	indexed, scheduled := 0, 0
	for _, rec := range records {
		if len(rec.Embedding.Vector) > 0 {
			if _, err := c.index.Upsert(rec.EntityName, rec.Embedding.Vector, rec.ContentVersion,
				vector.Metadata{EntityType: rec.EntityType}); err != nil {
				log.Printf("[recovery] WARNING: cannot index %q: %v", rec.EntityName, err)
			} else {
				indexed++
			}
		}

		if rec.Stale {
			entity, err := c.store.GetEntity(ctx, rec.EntityName)
			if err != nil {
				log.Printf("[recovery] WARNING: cannot load %q for rescheduling: %v", rec.EntityName, err)
				continue
			}
			c.queue.Schedule(entity.Name, entity.EmbeddingText(), entity.Version, 0)
			scheduled++
		}
	}

	log.Printf("[recovery] complete: %d vectors indexed, %d embedding jobs scheduled", indexed, scheduled)
	return nil
}
