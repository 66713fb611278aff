package embedding

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"
)

// Config selects and tunes the embedding provider. The zero value yields the
// mock provider, keeping the system functional without any credentials.
type Config struct {
	// Provider is "openai", "azure", "ollama", or "mock". Empty means
	// auto-detect from the credentials that are set.
	Provider string

	APIKey          string
	Model           string
	BaseURL         string
	AzureEndpoint   string
	AzureAPIVersion string

	Dimensions int
	Timeout    time.Duration

	// CacheSize is the LRU entry count; <= 0 disables the cache.
	CacheSize int
}

// NewService builds the embedding pipeline: provider, L2 normalization, then
// cache. Provider selection happens once here; nothing downstream switches on
// provider identity again.
//
// Auto-detection order: Azure endpoint, then OpenAI key, then Ollama base
// URL, then mock.
func NewService(cfg Config) (Service, error) {
	provider := cfg.Provider
	if provider == "" {
		switch {
		case cfg.AzureEndpoint != "":
			provider = "azure"
		case cfg.APIKey != "":
			provider = "openai"
		case cfg.BaseURL != "":
			provider = "ollama"
		default:
			provider = "mock"
		}
	}

	var svc Service
	switch provider {
	case "openai":
		svc = NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.Timeout,
		})
	case "azure":
		if cfg.AzureEndpoint == "" {
			return nil, fmt.Errorf("azure provider requires an endpoint")
		}
		svc = NewOpenAIProvider(OpenAIConfig{
			APIKey:          cfg.APIKey,
			Model:           cfg.Model,
			Dimensions:      cfg.Dimensions,
			AzureEndpoint:   cfg.AzureEndpoint,
			AzureAPIVersion: cfg.AzureAPIVersion,
			Timeout:         cfg.Timeout,
		})
	case "ollama":
		svc = NewOllamaProvider(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	case "mock":
		svc = NewMockProvider(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", provider)
	}

	log.Printf("[embedding] using provider %s (%d dimensions)",
		svc.ModelInfo().Name, svc.ModelInfo().Dimensions)

	// Real providers mostly return unit vectors already; normalizing here
	// makes it a guarantee the index relies on. The mock normalizes itself.
	if provider != "mock" {
		svc = &normalizingService{inner: svc}
	}

	return WithCache(svc, cfg.CacheSize)
}

// normalizingService scales every vector to unit L2 norm.
type normalizingService struct {
	inner Service
}

func (n *normalizingService) Generate(ctx context.Context, text string) ([]float32, error) {
	vec, err := n.inner.Generate(ctx, text)
	if err != nil {
		return nil, err
	}
	normalize(vec)
	return vec, nil
}

func (n *normalizingService) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := n.inner.GenerateBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for _, vec := range vecs {
		normalize(vec)
	}
	return vecs, nil
}

func (n *normalizingService) ModelInfo() ModelInfo {
	return n.inner.ModelInfo()
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
}
