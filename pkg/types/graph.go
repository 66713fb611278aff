package types

// KnowledgeGraph is the result shape returned by graph queries: a set of
// entities and the relations among them. It is assembled per query and never
// persisted.
type KnowledgeGraph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`

	// Total is the number of matches before any limit was applied, when the
	// producing operation tracks it.
	Total int `json:"total,omitempty"`

	// Diagnostics carries optional debug information about how a search was
	// executed. Only populated when debug mode is enabled; never required
	// for correctness.
	Diagnostics *SearchDiagnostics `json:"diagnostics,omitempty"`
}

// SearchDiagnostics records how the search pipeline handled a query.
type SearchDiagnostics struct {
	// Steps lists the pipeline stages that ran, in order
	// (e.g. "normalize", "embed", "vector_search", "keyword_search", "merge").
	Steps []string `json:"steps"`

	// ResolvedThreshold is the similarity threshold the vector search
	// actually used, after adaptive adjustment.
	ResolvedThreshold float64 `json:"resolvedThreshold"`

	// QueryAnalysis describes what the preprocessor made of the query.
	QueryAnalysis *QueryAnalysis `json:"queryAnalysis,omitempty"`

	// Fallback is set when the semantic branch failed and the search
	// degraded to keyword-only.
	Fallback string `json:"fallback,omitempty"`
}

// QueryAnalysis is the preprocessor's deterministic breakdown of a query.
type QueryAnalysis struct {
	Normalized           string   `json:"normalized"`
	Terms                []string `json:"terms"`
	Complexity           float64  `json:"complexity"`
	RecommendedThreshold float64  `json:"recommendedThreshold"`
	UseMultiVector       bool     `json:"useMultiVector"`
	SubQueries           []string `json:"subQueries,omitempty"`
	KeyTerms             []string `json:"keyTerms,omitempty"`
	FallbackPatterns     []string `json:"fallbackPatterns,omitempty"`
}
