package vector

import (
	"errors"
	"math"
	"testing"

	"github.com/teo-mateo/memento-mcp/internal/storage"
)

func TestIndex_UpsertAndSearch(t *testing.T) {
	ix, err := NewIndex(3, MetricCosine)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}

	ix.Upsert("a", []float32{1, 0, 0}, 1, Metadata{EntityType: "person"})
	ix.Upsert("b", []float32{0, 1, 0}, 1, Metadata{EntityType: "person"})
	ix.Upsert("c", []float32{0.9, 0.1, 0}, 1, Metadata{EntityType: "place"})

	matches, err := ix.Search([]float32{1, 0, 0}, 10, 0, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].ID != "a" {
		t.Errorf("expected exact match first, got %q", matches[0].ID)
	}
	if math.Abs(matches[0].Score-1.0) > 1e-6 {
		t.Errorf("exact match should score 1.0, got %f", matches[0].Score)
	}
	if matches[1].ID != "c" {
		t.Errorf("expected near match second, got %q", matches[1].ID)
	}
}

func TestIndex_MinScoreAndLimit(t *testing.T) {
	ix, _ := NewIndex(2, MetricCosine)
	ix.Upsert("close", []float32{1, 0}, 1, Metadata{})
	ix.Upsert("far", []float32{0, 1}, 1, Metadata{})

	matches, err := ix.Search([]float32{1, 0}, 10, 0.5, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "close" {
		t.Fatalf("minScore should drop orthogonal vector, got %v", matches)
	}

	ix.Upsert("also", []float32{0.9, 0.1}, 1, Metadata{})
	matches, _ = ix.Search([]float32{1, 0}, 1, 0, nil)
	if len(matches) != 1 {
		t.Fatalf("limit should cap results, got %d", len(matches))
	}
}

func TestIndex_StaleVersionIgnored(t *testing.T) {
	ix, _ := NewIndex(2, MetricCosine)

	applied, err := ix.Upsert("a", []float32{0, 1}, 3, Metadata{})
	if err != nil || !applied {
		t.Fatalf("initial upsert: applied=%v err=%v", applied, err)
	}

	// A write computed from an older content version must not regress
	// the entry.
	applied, err = ix.Upsert("a", []float32{1, 0}, 2, Metadata{})
	if err != nil {
		t.Fatalf("stale upsert: %v", err)
	}
	if applied {
		t.Error("stale upsert should be ignored")
	}

	matches, _ := ix.Search([]float32{0, 1}, 1, 0, nil)
	if len(matches) != 1 || matches[0].Score < 0.99 {
		t.Errorf("entry should still hold v3 vector, got %v", matches)
	}

	// Equal version is last-writer-wins.
	applied, _ = ix.Upsert("a", []float32{1, 0}, 3, Metadata{})
	if !applied {
		t.Error("same-version upsert should apply")
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ix, _ := NewIndex(3, MetricCosine)

	if _, err := ix.Upsert("a", []float32{1, 0}, 1, Metadata{}); !errors.Is(err, storage.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on upsert, got %v", err)
	}
	if _, err := ix.Search([]float32{1, 0}, 10, 0, nil); !errors.Is(err, storage.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on search, got %v", err)
	}
}

func TestIndex_TieBreakByInsertionOrder(t *testing.T) {
	ix, _ := NewIndex(2, MetricCosine)
	ix.Upsert("first", []float32{1, 0}, 1, Metadata{})
	ix.Upsert("second", []float32{1, 0}, 1, Metadata{})

	matches, _ := ix.Search([]float32{1, 0}, 10, 0, nil)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "first" || matches[1].ID != "second" {
		t.Errorf("equal scores should order by insertion: got %q, %q", matches[0].ID, matches[1].ID)
	}

	// Re-upserting must keep the original position.
	ix.Upsert("first", []float32{1, 0}, 2, Metadata{})
	matches, _ = ix.Search([]float32{1, 0}, 10, 0, nil)
	if matches[0].ID != "first" {
		t.Errorf("re-upsert should keep insertion order, got %q first", matches[0].ID)
	}
}

func TestIndex_FilterByMetadata(t *testing.T) {
	ix, _ := NewIndex(2, MetricCosine)
	ix.Upsert("alice", []float32{1, 0}, 1, Metadata{EntityType: "person"})
	ix.Upsert("paris", []float32{1, 0}, 1, Metadata{EntityType: "place"})

	matches, _ := ix.Search([]float32{1, 0}, 10, 0, func(m Metadata) bool {
		return m.EntityType == "place"
	})
	if len(matches) != 1 || matches[0].ID != "paris" {
		t.Errorf("filter should keep only places, got %v", matches)
	}
}

func TestIndex_RemoveAndClear(t *testing.T) {
	ix, _ := NewIndex(2, MetricCosine)
	ix.Upsert("a", []float32{1, 0}, 1, Metadata{})
	ix.Upsert("b", []float32{0, 1}, 1, Metadata{})

	ix.Remove("a")
	ix.Remove("a") // repeat removal is a no-op
	if ix.Len() != 1 {
		t.Fatalf("expected 1 entry after remove, got %d", ix.Len())
	}

	ix.Clear()
	if ix.Len() != 0 {
		t.Fatalf("expected empty index after clear, got %d", ix.Len())
	}
}

func TestIndex_EuclideanMetric(t *testing.T) {
	ix, _ := NewIndex(2, MetricEuclidean)
	ix.Upsert("same", []float32{1, 1}, 1, Metadata{})
	ix.Upsert("far", []float32{5, 5}, 1, Metadata{})

	matches, err := ix.Search([]float32{1, 1}, 10, 0, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if matches[0].ID != "same" {
		t.Errorf("zero distance should rank first, got %q", matches[0].ID)
	}
	if math.Abs(matches[0].Score-1.0) > 1e-6 {
		t.Errorf("zero distance should score 1.0, got %f", matches[0].Score)
	}
	if matches[1].Score >= matches[0].Score {
		t.Errorf("larger distance should score lower: %f >= %f", matches[1].Score, matches[0].Score)
	}
}
