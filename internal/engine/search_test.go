package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/teo-mateo/memento-mcp/internal/embedding"
	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/internal/storage/sqlite"
	"github.com/teo-mateo/memento-mcp/internal/vector"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// failingEmbedder simulates a provider outage.
type failingEmbedder struct{}

func (failingEmbedder) Generate(context.Context, string) ([]float32, error) {
	return nil, errors.New("provider down")
}

func (failingEmbedder) GenerateBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("provider down")
}

func (failingEmbedder) ModelInfo() embedding.ModelInfo {
	return embedding.ModelInfo{Name: "failing", Dimensions: 8}
}

func newSearchStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "search.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for _, e := range []types.Entity{
		{Name: "Fluffy", EntityType: "cat", Observations: []string{"loves JavaScript", "naps in the sun"}},
		{Name: "Rex", EntityType: "dog", Observations: []string{"chases squirrels"}},
	} {
		if _, err := store.CreateEntity(ctx, e, false, "test"); err != nil {
			t.Fatalf("CreateEntity: %v", err)
		}
	}
	return store
}

func TestSearchCoordinator_FailsSoftToKeyword(t *testing.T) {
	store := newSearchStore(t)
	index, _ := vector.NewIndex(8, vector.MetricCosine)

	s := NewSearchCoordinator(store, failingEmbedder{}, index, SearchCoordinatorConfig{Preprocessing: true})

	graph, err := s.Search(context.Background(), "javascript", SearchOptions{Debug: true})
	if err != nil {
		t.Fatalf("provider outage must not surface: %v", err)
	}
	if len(graph.Entities) != 1 || graph.Entities[0].Name != "Fluffy" {
		t.Fatalf("keyword fallback should find Fluffy, got %+v", graph.Entities)
	}
	if graph.Diagnostics == nil || graph.Diagnostics.Fallback == "" {
		t.Error("diagnostics should record the fallback")
	}
}

func TestSearchCoordinator_HybridBlendsBranches(t *testing.T) {
	store := newSearchStore(t)
	embedder := embedding.NewMockProvider(8)
	index, _ := vector.NewIndex(8, vector.MetricCosine)

	// Index Rex with the exact query vector so the semantic branch ranks it
	// maximally, while Fluffy matches only by keyword.
	ctx := context.Background()
	queryVec, _ := embedder.Generate(ctx, "javascript")
	if _, err := index.Upsert("Rex", queryVec, 1, vector.Metadata{EntityType: "dog"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	s := NewSearchCoordinator(store, embedder, index, SearchCoordinatorConfig{
		SemanticWeight: 0.6,
		Preprocessing:  true,
	})

	graph, err := s.Search(ctx, "javascript", SearchOptions{MinSimilarity: 0.5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(graph.Entities) != 2 {
		t.Fatalf("both branches should contribute, got %+v", graph.Entities)
	}
	// Rex: 0.6*1.0 = 0.6 beats Fluffy: 0.4*1.0 = 0.4.
	if graph.Entities[0].Name != "Rex" || graph.Entities[1].Name != "Fluffy" {
		t.Errorf("semantic hit should outrank keyword-only hit, got %v then %v",
			graph.Entities[0].Name, graph.Entities[1].Name)
	}
}

func TestSearchCoordinator_EmptyQuery(t *testing.T) {
	store := newSearchStore(t)
	index, _ := vector.NewIndex(8, vector.MetricCosine)
	s := NewSearchCoordinator(store, embedding.NewMockProvider(8), index, SearchCoordinatorConfig{})

	graph, err := s.Search(context.Background(), "   ", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(graph.Entities) != 0 {
		t.Errorf("blank query should return empty graph, got %+v", graph.Entities)
	}
}

func TestSearchCoordinator_EntityTypeFilter(t *testing.T) {
	store := newSearchStore(t)
	embedder := embedding.NewMockProvider(8)
	index, _ := vector.NewIndex(8, vector.MetricCosine)
	ctx := context.Background()

	queryVec, _ := embedder.Generate(ctx, "pets")
	_, _ = index.Upsert("Fluffy", queryVec, 1, vector.Metadata{EntityType: "cat"})
	_, _ = index.Upsert("Rex", queryVec, 1, vector.Metadata{EntityType: "dog"})

	s := NewSearchCoordinator(store, embedder, index, SearchCoordinatorConfig{})

	graph, err := s.Search(ctx, "pets", SearchOptions{MinSimilarity: 0.5, EntityType: "dog", HybridOff: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(graph.Entities) != 1 || graph.Entities[0].Name != "Rex" {
		t.Errorf("type filter should keep only dogs, got %+v", graph.Entities)
	}
}

// dbSimilarityStore wraps the sqlite store with a database-side similarity
// capability, the shape the postgres backend advertises.
type dbSimilarityStore struct {
	*sqlite.Store
	matches []storage.SimilarityMatch
	err     error
	calls   int
}

func (s *dbSimilarityStore) SimilarEntities(context.Context, []float32, int, float64) ([]storage.SimilarityMatch, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.matches, nil
}

func TestSearchCoordinator_DatabaseSimilarityPushdown(t *testing.T) {
	store := &dbSimilarityStore{
		Store: newSearchStore(t),
		matches: []storage.SimilarityMatch{
			{EntityName: "Rex", EntityType: "dog", Similarity: 0.9},
		},
	}
	index, _ := vector.NewIndex(8, vector.MetricCosine)

	s := NewSearchCoordinator(store, embedding.NewMockProvider(8), index, SearchCoordinatorConfig{Preprocessing: true})
	if s.similarity == nil {
		t.Fatal("similarity capability should be detected at construction")
	}

	// The in-process index is empty, so results can only come from the
	// store's pushdown.
	ctx := context.Background()
	graph, err := s.Search(ctx, "squirrels", SearchOptions{HybridOff: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if store.calls == 0 {
		t.Fatal("vector branch should query the database, not the index")
	}
	if len(graph.Entities) != 1 || graph.Entities[0].Name != "Rex" {
		t.Fatalf("pushdown matches should drive the result, got %+v", graph.Entities)
	}

	// The entity-type filter applies to pushdown rows too.
	filtered, err := s.Search(ctx, "squirrels", SearchOptions{HybridOff: true, EntityType: "cat"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(filtered.Entities) != 0 {
		t.Fatalf("type filter should drop Rex, got %+v", filtered.Entities)
	}
}

func TestSearchCoordinator_DatabaseSimilarityFallsBackToIndex(t *testing.T) {
	store := &dbSimilarityStore{
		Store: newSearchStore(t),
		err:   errors.New("connection reset"),
	}
	embedder := embedding.NewMockProvider(8)
	index, _ := vector.NewIndex(8, vector.MetricCosine)

	ctx := context.Background()
	queryVec, _ := embedder.Generate(ctx, "javascript")
	if _, err := index.Upsert("Fluffy", queryVec, 1, vector.Metadata{EntityType: "cat"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	s := NewSearchCoordinator(store, embedder, index, SearchCoordinatorConfig{Preprocessing: true})

	graph, err := s.Search(ctx, "javascript", SearchOptions{HybridOff: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if store.calls == 0 {
		t.Fatal("the database should have been tried first")
	}
	if len(graph.Entities) != 1 || graph.Entities[0].Name != "Fluffy" {
		t.Fatalf("index should back up a failing database search, got %+v", graph.Entities)
	}
}
