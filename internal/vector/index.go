// Package vector provides an in-process similarity index over entity
// embeddings. The index is a rebuildable projection of the store's embedding
// column: it can be dropped and reconstructed from storage at any time, so it
// holds no state of record.
package vector

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/teo-mateo/memento-mcp/internal/storage"
)

// Metric selects the similarity function used by Search.
type Metric string

const (
	// MetricCosine scores by cosine similarity in [-1, 1]. The default.
	MetricCosine Metric = "cosine"

	// MetricEuclidean scores by 1/(1+distance), mapping distance to (0, 1].
	MetricEuclidean Metric = "euclidean"
)

// Metadata is carried per entry for filter predicates.
type Metadata struct {
	EntityType string
}

// Match is one search result, ordered by descending score.
type Match struct {
	ID       string
	Score    float64
	Metadata Metadata
}

type entry struct {
	vector   []float32
	version  int
	metadata Metadata
	// order is the insertion sequence number, used as the stable
	// tie-break when scores are equal.
	order uint64
}

// Index is a thread-safe flat index with exhaustive scan search. Entries are
// version-tagged: an Upsert carrying an older version than the stored entry
// is ignored, so workers finishing out of order cannot regress the index.
type Index struct {
	mu         sync.RWMutex
	dimensions int
	metric     Metric
	entries    map[string]*entry
	nextOrder  uint64
}

// NewIndex creates an empty index for vectors of the given dimensionality.
func NewIndex(dimensions int, metric Metric) (*Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", storage.ErrValidation)
	}
	if metric == "" {
		metric = MetricCosine
	}
	if metric != MetricCosine && metric != MetricEuclidean {
		return nil, fmt.Errorf("%w: unknown metric %q", storage.ErrValidation, metric)
	}
	return &Index{
		dimensions: dimensions,
		metric:     metric,
		entries:    make(map[string]*entry),
	}, nil
}

// Upsert inserts or replaces the vector for id. version is the content
// version the vector was computed from; upserts older than the stored entry
// return false and leave the entry untouched. A replacing upsert keeps the
// original insertion order so result ordering is stable across refreshes.
func (ix *Index) Upsert(id string, vec []float32, version int, meta Metadata) (bool, error) {
	if len(vec) != ix.dimensions {
		return false, fmt.Errorf("%w: got %d, index expects %d",
			storage.ErrDimensionMismatch, len(vec), ix.dimensions)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if existing, ok := ix.entries[id]; ok {
		if version < existing.version {
			return false, nil
		}
		existing.vector = append([]float32(nil), vec...)
		existing.version = version
		existing.metadata = meta
		return true, nil
	}

	ix.entries[id] = &entry{
		vector:   append([]float32(nil), vec...),
		version:  version,
		metadata: meta,
		order:    ix.nextOrder,
	}
	ix.nextOrder++
	return true, nil
}

// Remove deletes the entry for id. Removing an absent id is a no-op.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, id)
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Clear drops all entries, e.g. before a rebuild from storage.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = make(map[string]*entry)
	ix.nextOrder = 0
}

// Search scans every entry, scores it against query, and returns up to limit
// matches with score >= minScore in descending score order. Equal scores tie
// break by insertion order. filter, when non-nil, drops entries before
// scoring.
func (ix *Index) Search(query []float32, limit int, minScore float64, filter func(Metadata) bool) ([]Match, error) {
	if len(query) != ix.dimensions {
		return nil, fmt.Errorf("%w: got %d, index expects %d",
			storage.ErrDimensionMismatch, len(query), ix.dimensions)
	}
	if limit <= 0 {
		limit = 10
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type scored struct {
		match Match
		order uint64
	}
	results := make([]scored, 0, len(ix.entries))
	for id, e := range ix.entries {
		if filter != nil && !filter(e.metadata) {
			continue
		}
		score := ix.score(query, e.vector)
		if score < minScore {
			continue
		}
		results = append(results, scored{
			match: Match{ID: id, Score: score, Metadata: e.metadata},
			order: e.order,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].match.Score != results[j].match.Score {
			return results[i].match.Score > results[j].match.Score
		}
		return results[i].order < results[j].order
	})

	if len(results) > limit {
		results = results[:limit]
	}
	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = r.match
	}
	return matches, nil
}

func (ix *Index) score(a, b []float32) float64 {
	switch ix.metric {
	case MetricEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return 1 / (1 + math.Sqrt(sum))
	default:
		return cosineSimilarity(a, b)
	}
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors. Returns 0 if either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
