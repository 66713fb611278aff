package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/teo-mateo/memento-mcp/internal/embedding"
	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/internal/vector"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// idleWait bounds how long an idle worker sleeps before re-checking the
// queue, so deferred jobs are picked up even without a wake signal.
const idleWait = 5 * time.Second

// embeddingWorker drains the job queue until ctx is cancelled.
func (c *GraphCoordinator) embeddingWorker(ctx context.Context, workerID int) {
	defer c.workerWaitGroup.Done()

	log.Printf("[worker %d] started", workerID)

	for {
		job, retryIn := c.queue.Claim()
		if job == nil {
			wait := idleWait
			if retryIn > 0 && retryIn < wait {
				wait = retryIn
			}
			select {
			case <-ctx.Done():
				log.Printf("[worker %d] stopped", workerID)
				return
			case <-c.queue.Wake():
			case <-time.After(wait):
			}
			continue
		}

		c.processEmbeddingJob(ctx, workerID, job)

		select {
		case <-ctx.Done():
			log.Printf("[worker %d] stopped", workerID)
			return
		default:
		}
	}
}

// processEmbeddingJob runs one claimed job through the pipeline: cache
// probe, rate limiter, provider, then the store's embedding column and the
// vector index. Cache hits never spend a rate-limit token.
func (c *GraphCoordinator) processEmbeddingJob(ctx context.Context, workerID int, job *types.EmbeddingJob) {
	log.Printf("[worker %d] embedding %q (v%d, attempt %d)",
		workerID, job.EntityName, job.ContentVersion, job.Attempts)

	// A cached vector means no provider call, so the rate limiter is
	// skipped entirely.
	vec, cached := cachedVector(c.embedder, job.Text)
	if !cached {
		if err := c.limiter.Acquire(ctx); err != nil {
			if errors.Is(err, embedding.ErrRateLimitTimeout) {
				// Not the provider's fault: requeue without spending an attempt.
				log.Printf("[worker %d] rate limit wait timed out for %q, requeueing", workerID, job.EntityName)
				c.queue.Requeue(job.ID, time.Second)
				return
			}
			// Context cancelled: put the job back for the next run.
			c.queue.Requeue(job.ID, 0)
			return
		}

		var err error
		vec, err = c.embedder.Generate(ctx, job.Text)
		if err != nil {
			log.Printf("[worker %d] ERROR: provider failed for %q: %v", workerID, job.EntityName, err)
			c.queue.Fail(job.ID, err)
			return
		}
	}

	// A vector whose length contradicts the declared model dimensionality
	// must never reach the store: the index would reject it on every pass
	// and recovery would re-surface it on every restart.
	if want := c.embedder.ModelInfo().Dimensions; len(vec) != want {
		err := fmt.Errorf("%w: provider returned %d dimensions, model %q declares %d",
			storage.ErrDimensionMismatch, len(vec), c.embedder.ModelInfo().Name, want)
		log.Printf("[worker %d] ERROR: %v", workerID, err)
		c.queue.Fail(job.ID, err)
		return
	}

	// Store writes use a background context so shutdown doesn't abandon a
	// vector we already paid the provider for.
	dbCtx := context.Background()
	emb := types.EntityEmbedding{
		Vector:      vec,
		Model:       c.embedder.ModelInfo().Name,
		LastUpdated: time.Now().UTC(),
	}

	err := c.vectorStore.StoreEmbedding(dbCtx, job.EntityName, emb, job.ContentVersion)
	switch {
	case errors.Is(err, storage.ErrSuperseded):
		// Newer content exists; the refreshed job will re-embed it.
		log.Printf("[worker %d] embedding for %q v%d superseded, dropping", workerID, job.EntityName, job.ContentVersion)
		c.queue.Complete(job.ID, job.ContentVersion)
		return
	case errors.Is(err, storage.ErrNotFound):
		// Entity deleted while the job was in flight.
		log.Printf("[worker %d] entity %q gone, dropping job", workerID, job.EntityName)
		c.queue.Complete(job.ID, job.ContentVersion)
		return
	case err != nil:
		log.Printf("[worker %d] ERROR: storing embedding for %q: %v", workerID, job.EntityName, err)
		c.queue.Fail(job.ID, err)
		return
	}

	// The store write is the source of truth; if the index write fails the
	// job retries, and StoreEmbedding simply overwrites with the same data.
	entityType := ""
	if entity, gerr := c.store.GetEntity(dbCtx, job.EntityName); gerr == nil {
		entityType = entity.EntityType
	}
	if _, ierr := c.index.Upsert(job.EntityName, vec, job.ContentVersion, vector.Metadata{EntityType: entityType}); ierr != nil {
		log.Printf("[worker %d] ERROR: index upsert for %q: %v", workerID, job.EntityName, ierr)
		if errors.Is(ierr, storage.ErrDimensionMismatch) {
			// Deterministic: retrying the same vector cannot succeed.
			c.queue.Fail(job.ID, ierr)
			return
		}
		c.queue.Requeue(job.ID, time.Second)
		return
	}

	c.queue.Complete(job.ID, job.ContentVersion)
	log.Printf("[worker %d] embedded %q (v%d)", workerID, job.EntityName, job.ContentVersion)
}

// cachedVector probes the embedding service's local cache, when it has one.
func cachedVector(svc embedding.Service, text string) ([]float32, bool) {
	prober, ok := svc.(embedding.CacheProber)
	if !ok {
		return nil, false
	}
	return prober.CachedEmbedding(text)
}
