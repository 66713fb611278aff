package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/teo-mateo/memento-mcp/internal/config"
	"github.com/teo-mateo/memento-mcp/internal/embedding"
	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/internal/vector"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// GraphCoordinator is the top-level orchestrator: every mutation goes through
// the temporal store first, then schedules embedding work when content
// changed. Reads assemble KnowledgeGraph results; search delegates to the
// SearchCoordinator.
type GraphCoordinator struct {
	store        storage.GraphStore
	temporal     storage.TemporalReader
	vectorStore  storage.VectorStore
	capabilities storage.Capabilities

	embedder embedding.Service
	limiter  *embedding.RateLimiter
	queue    *JobQueue
	index    *vector.Index
	search   *SearchCoordinator
	cfg      *config.Config

	mu              sync.RWMutex
	started         bool
	workerCtx       context.Context
	workerCancel    context.CancelFunc
	workerWaitGroup sync.WaitGroup
}

// NewGraphCoordinator wires the coordinator. Optional store capabilities are
// detected once here; temporal and embedding operations return a clear error
// on stores that lack them rather than probing per call.
func NewGraphCoordinator(store storage.GraphStore, embedder embedding.Service, cfg *config.Config) (*GraphCoordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding service is required")
	}

	caps := storage.DetectCapabilities(store)

	index, err := vector.NewIndex(embedder.ModelInfo().Dimensions, vector.MetricCosine)
	if err != nil {
		return nil, err
	}

	c := &GraphCoordinator{
		store:        store,
		capabilities: caps,
		embedder:     embedder,
		limiter: embedding.NewRateLimiter(
			cfg.Embedding.RequestsPerMinute, cfg.Embedding.Burst, cfg.Embedding.RateLimitWait),
		queue: NewJobQueue(JobQueueConfig{
			MaxAttempts: cfg.Queue.MaxAttempts,
			BackoffBase: cfg.Queue.BackoffBase,
			BackoffCap:  cfg.Queue.BackoffCap,
		}),
		index: index,
		cfg:   cfg,
	}

	if caps.Temporal {
		c.temporal = store.(storage.TemporalReader)
	}
	if caps.Vector {
		c.vectorStore = store.(storage.VectorStore)
	}

	c.search = NewSearchCoordinator(store, embedder, index, SearchCoordinatorConfig{
		SemanticWeight: cfg.Search.SemanticWeight,
		DefaultLimit:   cfg.Search.DefaultLimit,
		Preprocessing:  !cfg.Search.PreprocessingDisabled,
	})

	return c, nil
}

// Start launches the worker pool and runs embedding recovery in the
// background so Start returns quickly.
func (c *GraphCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("coordinator already started")
	}

	log.Println("[coordinator] starting...")
	c.workerCtx, c.workerCancel = context.WithCancel(context.Background())

	if c.capabilities.Vector {
		workers := c.cfg.Queue.Workers
		c.workerWaitGroup.Add(workers)
		for i := 0; i < workers; i++ {
			go c.embeddingWorker(c.workerCtx, i)
		}

		go func() {
			if err := c.RecoverEmbeddings(ctx); err != nil {
				log.Printf("[coordinator] ERROR: embedding recovery failed: %v", err)
			}
		}()
	} else {
		log.Println("[coordinator] store has no vector capability, embedding pipeline disabled")
	}

	c.started = true
	log.Println("[coordinator] started")
	return nil
}

// Shutdown stops the workers and waits for in-flight jobs up to the context
// deadline. Pending queue entries are recovered from the store on next start.
func (c *GraphCoordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return fmt.Errorf("coordinator not started")
	}

	log.Println("[coordinator] shutting down...")
	c.workerCancel()

	done := make(chan struct{})
	go func() {
		c.workerWaitGroup.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Println("[coordinator] WARNING: shutdown deadline reached with workers still running")
	}

	c.started = false
	log.Println("[coordinator] shut down")
	return nil
}

// CreateEntities creates or merge-upserts a batch of entities. Creation is
// idempotent per name: re-creating with the same observations is a no-op,
// new observations are unioned in. Each changed entity schedules an
// embedding job.
func (c *GraphCoordinator) CreateEntities(ctx context.Context, entities []types.Entity, changedBy string) ([]types.TemporalEntity, error) {
	results := make([]types.TemporalEntity, 0, len(entities))
	for _, entity := range entities {
		created, err := c.store.CreateEntity(ctx, entity, true, changedBy)
		if err != nil {
			return nil, err
		}
		results = append(results, *created)
		c.scheduleEmbedding(created, 0)
	}
	return results, nil
}

// DeleteEntities removes entities and their touching relations, with a
// best-effort index removal. Missing names are skipped, not errors.
func (c *GraphCoordinator) DeleteEntities(ctx context.Context, names []string) error {
	for _, name := range names {
		err := c.store.DeleteEntity(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		// The index is a derived projection; removal failure is not fatal.
		c.index.Remove(name)
	}
	return nil
}

// AddObservations unions new observations into each named entity and returns
// the observations actually added per entity. Entities whose content changed
// get an embedding job.
func (c *GraphCoordinator) AddObservations(ctx context.Context, additions map[string][]string, changedBy string) (map[string][]string, error) {
	added := make(map[string][]string, len(additions))
	for name, observations := range additions {
		var newOnes []string
		updated, err := c.store.UpdateEntity(ctx, name, func(e *types.Entity) error {
			before := len(e.Observations)
			merged := storage.UnionObservations(e.Observations, observations)
			newOnes = merged[before:]
			e.Observations = merged
			return nil
		}, changedBy)
		if err != nil {
			return nil, err
		}
		added[name] = append([]string(nil), newOnes...)
		if len(newOnes) > 0 {
			c.scheduleEmbedding(updated, 0)
		}
	}
	return added, nil
}

// DeleteObservations removes the given observations from each named entity.
// Content shrank, so the entity is re-embedded.
func (c *GraphCoordinator) DeleteObservations(ctx context.Context, deletions map[string][]string, changedBy string) error {
	for name, observations := range deletions {
		drop := make(map[string]bool, len(observations))
		for _, obs := range observations {
			drop[obs] = true
		}
		changed := false
		updated, err := c.store.UpdateEntity(ctx, name, func(e *types.Entity) error {
			kept := e.Observations[:0:0]
			for _, obs := range e.Observations {
				if drop[obs] {
					changed = true
					continue
				}
				kept = append(kept, obs)
			}
			e.Observations = kept
			return nil
		}, changedBy)
		if err != nil {
			return err
		}
		if changed {
			c.scheduleEmbedding(updated, 0)
		}
	}
	return nil
}

// CreateRelations creates a batch of relations. Unlike entities, duplicate
// relations are rejected with DuplicateKey.
func (c *GraphCoordinator) CreateRelations(ctx context.Context, relations []types.Relation, changedBy string) ([]types.TemporalRelation, error) {
	results := make([]types.TemporalRelation, 0, len(relations))
	for _, rel := range relations {
		created, err := c.store.CreateRelation(ctx, rel, changedBy)
		if err != nil {
			return nil, err
		}
		results = append(results, *created)
	}
	return results, nil
}

// DeleteRelations removes relations by triple. Missing triples are skipped.
func (c *GraphCoordinator) DeleteRelations(ctx context.Context, relations []types.Relation) error {
	for _, rel := range relations {
		err := c.store.DeleteRelation(ctx, rel.From, rel.To, rel.RelationType)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// GetRelation returns the current version of a relation.
func (c *GraphCoordinator) GetRelation(ctx context.Context, from, to, relationType string) (*types.TemporalRelation, error) {
	return c.store.GetRelation(ctx, from, to, relationType)
}

// UpdateRelation applies a mutation to a relation, producing a new version.
func (c *GraphCoordinator) UpdateRelation(ctx context.Context, from, to, relationType string, mutate storage.RelationMutation, changedBy string) (*types.TemporalRelation, error) {
	return c.store.UpdateRelation(ctx, from, to, relationType, mutate, changedBy)
}

// ReadGraph returns the full current graph.
func (c *GraphCoordinator) ReadGraph(ctx context.Context) (*types.KnowledgeGraph, error) {
	entities, err := c.store.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	relations, err := c.store.ListRelations(ctx)
	if err != nil {
		return nil, err
	}
	return assembleGraph(entities, relations), nil
}

// SearchNodes performs keyword search over names, types, and observations.
func (c *GraphCoordinator) SearchNodes(ctx context.Context, query string, limit int) (*types.KnowledgeGraph, error) {
	if limit <= 0 {
		limit = c.cfg.Search.DefaultLimit
	}
	entities, err := c.store.SearchEntities(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	relations, err := c.store.RelationsForEntities(ctx, names)
	if err != nil {
		return nil, err
	}
	return assembleGraph(entities, relations), nil
}

// SemanticSearch runs the hybrid vector + keyword pipeline.
func (c *GraphCoordinator) SemanticSearch(ctx context.Context, query string, opts SearchOptions) (*types.KnowledgeGraph, error) {
	return c.search.Search(ctx, query, opts)
}

// OpenNodes returns the named entities and the relations among them.
func (c *GraphCoordinator) OpenNodes(ctx context.Context, names []string) (*types.KnowledgeGraph, error) {
	var entities []types.TemporalEntity
	var found []string
	for _, name := range names {
		entity, err := c.store.GetEntity(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entities = append(entities, *entity)
		found = append(found, name)
	}

	relations, err := c.store.RelationsForEntities(ctx, found)
	if err != nil {
		return nil, err
	}
	return assembleGraph(entities, relations), nil
}

// GetEntityHistory returns all versions of an entity, oldest first.
func (c *GraphCoordinator) GetEntityHistory(ctx context.Context, name string) ([]types.TemporalEntity, error) {
	if c.temporal == nil {
		return nil, fmt.Errorf("store does not support temporal queries")
	}
	return c.temporal.GetEntityHistory(ctx, name)
}

// GetRelationHistory returns all versions of a relation, oldest first.
func (c *GraphCoordinator) GetRelationHistory(ctx context.Context, from, to, relationType string) ([]types.TemporalRelation, error) {
	if c.temporal == nil {
		return nil, fmt.Errorf("store does not support temporal queries")
	}
	return c.temporal.GetRelationHistory(ctx, from, to, relationType)
}

// GraphAtTime reconstructs the graph as it existed at t.
func (c *GraphCoordinator) GraphAtTime(ctx context.Context, t time.Time) (*types.KnowledgeGraph, error) {
	if c.temporal == nil {
		return nil, fmt.Errorf("store does not support temporal queries")
	}
	return c.temporal.GraphAtTime(ctx, t)
}

// DecayedGraph returns the current graph with relation confidences decayed
// by age. Presentation only: stored confidences are untouched.
func (c *GraphCoordinator) DecayedGraph(ctx context.Context) (*types.KnowledgeGraph, error) {
	graph, err := c.ReadGraph(ctx)
	if err != nil {
		return nil, err
	}
	if c.cfg.Decay.Disabled {
		return graph, nil
	}
	graph.Relations = ApplyDecay(graph.Relations, time.Now().UTC(), c.cfg.Decay.HalfLife, c.cfg.Decay.MinConfidence)
	return graph, nil
}

// GetEntityEmbedding returns the stored embedding of an entity.
func (c *GraphCoordinator) GetEntityEmbedding(ctx context.Context, name string) (*types.EntityEmbedding, error) {
	if c.vectorStore == nil {
		return nil, fmt.Errorf("store does not support embeddings")
	}
	return c.vectorStore.GetEmbedding(ctx, name)
}

// RescheduleEmbedding revives a terminally failed embedding job.
func (c *GraphCoordinator) RescheduleEmbedding(entityName string) (string, error) {
	return c.queue.Reschedule(entityName)
}

// QueueStats summarizes the embedding queue by job status.
func (c *GraphCoordinator) QueueStats() map[types.JobStatus]int {
	return c.queue.Stats()
}

// scheduleEmbedding queues an embedding job for an entity version. Failures
// of the pipeline never propagate to the mutation that triggered it.
func (c *GraphCoordinator) scheduleEmbedding(entity *types.TemporalEntity, priority int) {
	if c.vectorStore == nil {
		return
	}
	c.queue.Schedule(entity.Name, entity.EmbeddingText(), entity.Version, priority)
}

func assembleGraph(entities []types.TemporalEntity, relations []types.TemporalRelation) *types.KnowledgeGraph {
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
	return graph
}
