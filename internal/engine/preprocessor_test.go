package engine

import (
	"math"
	"testing"
)

func TestAnalyzeQuery_SingleTerm(t *testing.T) {
	a := AnalyzeQuery("rabbit", DefaultPreprocessorOptions())

	if a.Complexity != 0 {
		t.Errorf("single term complexity should be 0, got %f", a.Complexity)
	}
	if a.RecommendedThreshold != 0.6 {
		t.Errorf("single term threshold should be 0.6, got %f", a.RecommendedThreshold)
	}
	if a.UseMultiVector {
		t.Error("single term should not use multi-vector")
	}
	if len(a.SubQueries) != 0 {
		t.Errorf("single term should not decompose, got %v", a.SubQueries)
	}
}

func TestAnalyzeQuery_MultiTerm(t *testing.T) {
	a := AnalyzeQuery("programmer developer coding", DefaultPreprocessorOptions())

	if len(a.Terms) != 3 {
		t.Fatalf("expected 3 terms, got %v", a.Terms)
	}
	if a.Complexity != 1 {
		t.Errorf("three terms should be fully complex, got %f", a.Complexity)
	}
	if math.Abs(a.RecommendedThreshold-0.4) > 1e-9 {
		t.Errorf("complex query threshold should be 0.4, got %f", a.RecommendedThreshold)
	}
	if !a.UseMultiVector {
		t.Error("three terms should use multi-vector")
	}

	want := []string{
		"programmer developer coding",
		"programmer developer",
		"developer coding",
		"programmer",
		"developer",
		"coding",
	}
	if len(a.SubQueries) != len(want) {
		t.Fatalf("sub-queries: got %v, want %v", a.SubQueries, want)
	}
	for i := range want {
		if a.SubQueries[i] != want[i] {
			t.Errorf("sub-query %d: got %q, want %q", i, a.SubQueries[i], want[i])
		}
	}
}

func TestAnalyzeQuery_TwoTermInterpolation(t *testing.T) {
	a := AnalyzeQuery("blue rabbit", DefaultPreprocessorOptions())

	if math.Abs(a.Complexity-0.5) > 1e-9 {
		t.Errorf("two of three terms should interpolate to 0.5, got %f", a.Complexity)
	}
	if math.Abs(a.RecommendedThreshold-0.5) > 1e-9 {
		t.Errorf("threshold should interpolate to 0.5, got %f", a.RecommendedThreshold)
	}
}

func TestAnalyzeQuery_Normalization(t *testing.T) {
	a := AnalyzeQuery("  Programmer   DEVELOPER\tcoding  ", DefaultPreprocessorOptions())
	if a.Normalized != "programmer developer coding" {
		t.Errorf("normalization: got %q", a.Normalized)
	}
}

func TestAnalyzeQuery_AdaptiveDisabled(t *testing.T) {
	opts := DefaultPreprocessorOptions()
	opts.AdaptiveThresholds = false

	a := AnalyzeQuery("programmer developer coding", opts)
	if a.RecommendedThreshold != 0.6 {
		t.Errorf("disabled adaptation should pin the max threshold, got %f", a.RecommendedThreshold)
	}
}

func TestAnalyzeQuery_KeyTermsAndFallbacks(t *testing.T) {
	a := AnalyzeQuery("what is the programmer doing", DefaultPreprocessorOptions())

	// Stop words and short terms are excluded; longest first.
	if len(a.KeyTerms) != 2 || a.KeyTerms[0] != "programmer" || a.KeyTerms[1] != "doing" {
		t.Fatalf("key terms: got %v", a.KeyTerms)
	}

	patterns := make(map[string]bool)
	for _, p := range a.FallbackPatterns {
		patterns[p] = true
	}
	for _, want := range []string{"programmer", "prog*", "programmers", "programmering", "programmered", "doing"} {
		if !patterns[want] {
			t.Errorf("missing fallback pattern %q in %v", want, a.FallbackPatterns)
		}
	}
}

func TestAnalyzeQuery_EmptyQuery(t *testing.T) {
	a := AnalyzeQuery("   ", DefaultPreprocessorOptions())
	if a.Normalized != "" || len(a.Terms) != 0 {
		t.Errorf("blank query should normalize to empty, got %+v", a)
	}
	if a.Complexity != 0 {
		t.Errorf("blank query complexity should be 0, got %f", a.Complexity)
	}
}
