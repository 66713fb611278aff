package engine

import (
	"strings"

	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// PreprocessorOptions tunes query analysis. The zero value is not useful;
// use DefaultPreprocessorOptions.
type PreprocessorOptions struct {
	// EnableDecomposition allows multi-term queries to be split into
	// sub-queries for multi-vector search.
	EnableDecomposition bool

	// ComplexityThreshold is the term count at which a query counts as
	// fully complex.
	ComplexityThreshold int

	// AdaptiveThresholds scales the similarity threshold down as queries
	// get more complex. When off, MaxThresholdSingleTerm applies verbatim,
	// the legacy behavior that starves multi-term queries of results.
	AdaptiveThresholds bool

	// MinThresholdMultiTerm is the threshold floor for fully complex queries.
	MinThresholdMultiTerm float64

	// MaxThresholdSingleTerm is the threshold for single-term queries.
	MaxThresholdSingleTerm float64
}

// DefaultPreprocessorOptions returns the standard tuning.
func DefaultPreprocessorOptions() PreprocessorOptions {
	return PreprocessorOptions{
		EnableDecomposition:    true,
		ComplexityThreshold:    3,
		AdaptiveThresholds:     true,
		MinThresholdMultiTerm:  0.4,
		MaxThresholdSingleTerm: 0.6,
	}
}

// queryStopWords are excluded from key-term extraction.
var queryStopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"were": true, "with": true, "that": true, "this": true, "from": true,
	"what": true, "who": true, "how": true, "all": true, "about": true,
	"has": true, "have": true, "had": true, "does": true, "did": true,
	"not": true, "but": true, "you": true, "your": true,
}

// AnalyzeQuery is a pure, deterministic breakdown of a free-text query:
// normalization, complexity scoring, adaptive threshold selection, optional
// decomposition into sub-queries, key-term extraction, and fallback pattern
// generation for degraded keyword matching.
func AnalyzeQuery(query string, opts PreprocessorOptions) types.QueryAnalysis {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	terms := strings.Fields(normalized)

	analysis := types.QueryAnalysis{
		Normalized: normalized,
		Terms:      terms,
	}

	// Complexity: 0 for a single term, 1 at the threshold, linear between.
	switch {
	case len(terms) <= 1:
		analysis.Complexity = 0
	case len(terms) >= opts.ComplexityThreshold:
		analysis.Complexity = 1
	default:
		analysis.Complexity = float64(len(terms)-1) / float64(opts.ComplexityThreshold-1)
	}

	if opts.AdaptiveThresholds {
		analysis.RecommendedThreshold = opts.MaxThresholdSingleTerm -
			analysis.Complexity*(opts.MaxThresholdSingleTerm-opts.MinThresholdMultiTerm)
	} else {
		analysis.RecommendedThreshold = opts.MaxThresholdSingleTerm
	}

	analysis.UseMultiVector = len(terms) >= 3

	if opts.EnableDecomposition && len(terms) >= 3 {
		analysis.SubQueries = decompose(normalized, terms)
	}

	analysis.KeyTerms = keyTerms(terms)
	analysis.FallbackPatterns = fallbackPatterns(analysis.KeyTerms)
	return analysis
}

// decompose emits the full query, every adjacent bigram, and each long term,
// deduplicated in insertion order.
func decompose(normalized string, terms []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	add(normalized)
	for i := 0; i+1 < len(terms); i++ {
		add(terms[i] + " " + terms[i+1])
	}
	for _, term := range terms {
		if len(term) >= 5 {
			add(term)
		}
	}
	return out
}

// keyTerms filters stop words and short terms, then sorts by descending
// length with original order preserved among equal lengths.
func keyTerms(terms []string) []string {
	var out []string
	for _, term := range terms {
		if len(term) > 2 && !queryStopWords[term] {
			out = append(out, term)
		}
	}
	// Insertion sort keeps the original order stable for equal lengths.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j]) > len(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// fallbackPatterns emits degraded-match patterns per key term: the term
// itself, a 4-character prefix wildcard for longer terms, and common suffix
// variants.
func fallbackPatterns(keyTerms []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, term := range keyTerms {
		add(term)
		if len(term) > 4 {
			add(term[:4] + "*")
		}
		add(term + "s")
		add(term + "ing")
		add(term + "ed")
	}
	return out
}
