// Package embedding generates vector embeddings for entity content. It ships
// hand-rolled HTTP clients for OpenAI (plain and Azure-hosted) and Ollama,
// each wrapped in a circuit breaker, plus a deterministic mock provider used
// when no real provider is configured.
package embedding

import (
	"context"
	"errors"
)

// ErrProviderUnavailable indicates the provider could not be reached or its
// circuit breaker is open. Jobs failing with it are retried with backoff.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// ModelInfo describes the model a Service generates vectors with.
type ModelInfo struct {
	// Name is the provider-qualified model identifier, e.g.
	// "openai/text-embedding-3-small".
	Name string

	// Dimensions is the fixed output dimensionality.
	Dimensions int
}

// Service generates embedding vectors. Implementations return vectors of
// exactly ModelInfo().Dimensions; the factory wraps every real provider so
// returned vectors are L2-normalized.
type Service interface {
	// Generate embeds a single text.
	Generate(ctx context.Context, text string) ([]float32, error)

	// GenerateBatch embeds several texts in one provider call where the
	// provider supports it. Results align index-for-index with texts.
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelInfo reports the model name and dimensionality.
	ModelInfo() ModelInfo
}

// CacheProber is implemented by services that keep a local vector cache.
// Callers check it before acquiring rate-limit permits: a cache hit means no
// provider request will be made.
type CacheProber interface {
	// CachedEmbedding returns the cached vector for text, if present.
	CachedEmbedding(text string) ([]float32, bool)
}
