package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/teo-mateo/memento-mcp/internal/embedding"
	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/internal/vector"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// SearchOptions tunes one semantic search call.
type SearchOptions struct {
	// Limit bounds the result count; <= 0 uses the configured default.
	Limit int

	// MinSimilarity overrides the adaptive threshold when set (> 0).
	MinSimilarity float64

	// Hybrid blends keyword matches into the ranking. Default true via
	// SearchCoordinator config; set HybridOff to disable per call.
	HybridOff bool

	// EntityType filters vector matches by entity type.
	EntityType string

	// Debug attaches pipeline diagnostics to the result.
	Debug bool
}

// SearchCoordinatorConfig is fixed at construction.
type SearchCoordinatorConfig struct {
	// SemanticWeight is the vector score share in hybrid ranking.
	SemanticWeight float64

	// DefaultLimit applies when the caller passes none.
	DefaultLimit int

	// Preprocessing toggles adaptive query analysis. When off,
	// MinSimilarity (or the single-term maximum) applies verbatim.
	Preprocessing bool

	// Preprocessor tunes query analysis.
	Preprocessor PreprocessorOptions
}

// SearchCoordinator runs the hybrid search pipeline: analyze the query,
// embed it, rank vector matches, blend in keyword matches, and materialize
// entities from the store. Provider failures degrade to keyword-only search
// rather than surfacing.
type SearchCoordinator struct {
	store    storage.GraphStore
	embedder embedding.Service
	index    *vector.Index
	config   SearchCoordinatorConfig

	// similarity is set when the store ranks by vector similarity in the
	// database (pgvector); the vector branch then pushes down to it.
	similarity storage.SimilaritySearcher
}

// NewSearchCoordinator wires the search pipeline. Stores that implement
// database-side similarity search are detected here, once.
func NewSearchCoordinator(store storage.GraphStore, embedder embedding.Service, index *vector.Index, config SearchCoordinatorConfig) *SearchCoordinator {
	if config.SemanticWeight <= 0 || config.SemanticWeight > 1 {
		config.SemanticWeight = 0.6
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 10
	}
	if config.Preprocessor == (PreprocessorOptions{}) {
		config.Preprocessor = DefaultPreprocessorOptions()
	}
	s := &SearchCoordinator{store: store, embedder: embedder, index: index, config: config}
	if searcher, ok := store.(storage.SimilaritySearcher); ok {
		s.similarity = searcher
	}
	return s
}

type hybridScore struct {
	vectorScore  float64
	keywordScore float64
	order        int
}

// Search runs the full pipeline and returns matching entities with the
// relations among them.
func (s *SearchCoordinator) Search(ctx context.Context, query string, opts SearchOptions) (*types.KnowledgeGraph, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}

	var diag *types.SearchDiagnostics
	if opts.Debug {
		diag = &types.SearchDiagnostics{}
	}
	step := func(name string) {
		if diag != nil {
			diag.Steps = append(diag.Steps, name)
		}
	}

	step("normalize")
	analysis := AnalyzeQuery(query, s.config.Preprocessor)
	threshold := s.resolveThreshold(analysis, opts)
	if diag != nil {
		diag.QueryAnalysis = &analysis
		diag.ResolvedThreshold = threshold
	}

	if analysis.Normalized == "" {
		return &types.KnowledgeGraph{Entities: []types.Entity{}, Relations: []types.Relation{}, Diagnostics: diag}, nil
	}

	scores := make(map[string]*hybridScore)
	order := 0
	touch := func(name string) *hybridScore {
		if sc, ok := scores[name]; ok {
			return sc
		}
		sc := &hybridScore{order: order}
		order++
		scores[name] = sc
		return sc
	}

	step("embed")
	semanticOK := s.vectorBranch(ctx, analysis, threshold, limit, opts, touch, step, diag)

	if !opts.HybridOff || !semanticOK {
		step("keyword_search")
		if err := s.keywordBranch(ctx, analysis, limit, touch); err != nil {
			if !semanticOK {
				// Both branches failed; nothing to degrade to.
				return nil, fmt.Errorf("keyword search: %w", err)
			}
			log.Printf("[search] WARNING: keyword branch failed: %v", err)
		}
	}

	step("merge")
	ranked := s.rank(scores, semanticOK, limit)

	step("materialize")
	graph, err := s.materialize(ctx, ranked)
	if err != nil {
		return nil, err
	}
	graph.Diagnostics = diag
	return graph, nil
}

// resolveThreshold picks the similarity cutoff: the caller's explicit value
// wins, then the adaptive recommendation, then the legacy fixed maximum.
func (s *SearchCoordinator) resolveThreshold(analysis types.QueryAnalysis, opts SearchOptions) float64 {
	if opts.MinSimilarity > 0 {
		return opts.MinSimilarity
	}
	if !s.config.Preprocessing {
		return s.config.Preprocessor.MaxThresholdSingleTerm
	}
	return analysis.RecommendedThreshold
}

// vectorBranch embeds the query (and sub-queries for complex queries) and
// collects index matches. Returns false when the provider is unavailable, in
// which case the caller falls back to keyword-only search.
func (s *SearchCoordinator) vectorBranch(
	ctx context.Context,
	analysis types.QueryAnalysis,
	threshold float64,
	limit int,
	opts SearchOptions,
	touch func(string) *hybridScore,
	step func(string),
	diag *types.SearchDiagnostics,
) bool {
	queries := []string{analysis.Normalized}
	if s.config.Preprocessing && analysis.UseMultiVector && len(analysis.SubQueries) > 0 {
		queries = analysis.SubQueries
	}

	vecs, err := s.embedder.GenerateBatch(ctx, queries)
	if err != nil {
		log.Printf("[search] provider unavailable, falling back to keyword-only: %v", err)
		if diag != nil {
			diag.Fallback = "keyword-only: " + err.Error()
		}
		return false
	}

	step("vector_search")
	var filter func(vector.Metadata) bool
	if opts.EntityType != "" {
		entityType := opts.EntityType
		filter = func(m vector.Metadata) bool { return m.EntityType == entityType }
	}

	for _, vec := range vecs {
		if s.similarity != nil {
			if ok := s.databaseMatches(ctx, vec, limit, threshold, opts, touch); ok {
				continue
			}
			// Database-side search failed; the in-process index still
			// mirrors the store, so fall through to it.
		}
		matches, err := s.index.Search(vec, limit, threshold, filter)
		if err != nil {
			log.Printf("[search] WARNING: index search failed: %v", err)
			if diag != nil {
				diag.Fallback = "keyword-only: " + err.Error()
			}
			return false
		}
		for _, m := range matches {
			sc := touch(m.ID)
			// Across sub-queries an entity keeps its best similarity.
			if m.Score > sc.vectorScore {
				sc.vectorScore = m.Score
			}
		}
	}
	return true
}

// databaseMatches runs one query vector through the store's similarity
// pushdown and folds the rows into the score map. Returns false when the
// query failed and the caller should use the in-process index instead.
func (s *SearchCoordinator) databaseMatches(
	ctx context.Context,
	vec []float32,
	limit int,
	threshold float64,
	opts SearchOptions,
	touch func(string) *hybridScore,
) bool {
	matches, err := s.similarity.SimilarEntities(ctx, vec, limit, threshold)
	if err != nil {
		log.Printf("[search] WARNING: database similarity search failed, using in-process index: %v", err)
		return false
	}
	for _, m := range matches {
		if opts.EntityType != "" && m.EntityType != opts.EntityType {
			continue
		}
		sc := touch(m.EntityName)
		if m.Similarity > sc.vectorScore {
			sc.vectorScore = m.Similarity
		}
	}
	return true
}

// keywordBranch scores substring matches from the store. Keyword score is
// the fraction of query terms found in the entity's text.
func (s *SearchCoordinator) keywordBranch(ctx context.Context, analysis types.QueryAnalysis, limit int, touch func(string) *hybridScore) error {
	terms := analysis.KeyTerms
	if len(terms) == 0 {
		terms = analysis.Terms
	}
	if len(terms) == 0 {
		return nil
	}

	matched := make(map[string]int)
	for _, term := range terms {
		entities, err := s.store.SearchEntities(ctx, term, limit*2)
		if err != nil {
			return err
		}
		for _, e := range entities {
			matched[e.Name]++
		}
	}

	for name, hits := range matched {
		sc := touch(name)
		sc.keywordScore = float64(hits) / float64(len(terms))
	}
	return nil
}

// rank blends both branches: semanticWeight * vector + (1-w) * keyword, with
// a missing branch scoring zero rather than excluding the entity. When the
// semantic branch is down the keyword score stands alone.
func (s *SearchCoordinator) rank(scores map[string]*hybridScore, semanticOK bool, limit int) []string {
	type rankedEntity struct {
		name  string
		score float64
		order int
	}

	ranked := make([]rankedEntity, 0, len(scores))
	for name, sc := range scores {
		var score float64
		if semanticOK {
			score = s.config.SemanticWeight*sc.vectorScore + (1-s.config.SemanticWeight)*sc.keywordScore
		} else {
			score = sc.keywordScore
		}
		if score <= 0 {
			continue
		}
		ranked = append(ranked, rankedEntity{name: name, score: score, order: sc.order})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].order < ranked[j].order
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	names := make([]string, len(ranked))
	for i, r := range ranked {
		names[i] = r.name
	}
	return names
}

// materialize loads the ranked entities and the relations among them.
func (s *SearchCoordinator) materialize(ctx context.Context, names []string) (*types.KnowledgeGraph, error) {
	graph := &types.KnowledgeGraph{
		Entities:  make([]types.Entity, 0, len(names)),
		Relations: []types.Relation{},
	}

	for _, name := range names {
		entity, err := s.store.GetEntity(ctx, name)
		if err != nil {
			// Index lag: the entity was deleted after being indexed.
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		graph.Entities = append(graph.Entities, entity.Entity)
	}
	graph.Total = len(graph.Entities)

	if len(graph.Entities) > 0 {
		included := make([]string, len(graph.Entities))
		for i, e := range graph.Entities {
			included[i] = e.Name
		}
		relations, err := s.store.RelationsForEntities(ctx, included)
		if err != nil {
			return nil, err
		}
		for _, r := range relations {
			graph.Relations = append(graph.Relations, r.Relation)
		}
	}
	return graph, nil
}
