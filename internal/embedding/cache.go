package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cachedService wraps a Service with an LRU cache keyed by a digest of the
// normalized input text. Entity content repeats heavily across merge upserts
// and recovery passes, so the cache saves real provider calls.
type cachedService struct {
	inner Service
	cache *lru.Cache[string, []float32]
}

// WithCache wraps svc with an LRU of the given size. A size <= 0 disables
// caching and returns svc unchanged.
func WithCache(svc Service, size int) (Service, error) {
	if size <= 0 {
		return svc, nil
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &cachedService{inner: svc, cache: cache}, nil
}

// cacheKey collapses whitespace and case before hashing so trivially
// reformatted text hits the same entry.
func cacheKey(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func (c *cachedService) Generate(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return append([]float32(nil), vec...), nil
	}

	vec, err := c.inner.Generate(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, append([]float32(nil), vec...))
	return vec, nil
}

func (c *cachedService) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	// Collect cache misses and embed only those.
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(text)); ok {
			results[i] = append([]float32(nil), vec...)
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := c.inner.GenerateBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		i := missIdx[j]
		results[i] = vec
		c.cache.Add(cacheKey(texts[i]), append([]float32(nil), vec...))
	}
	return results, nil
}

func (c *cachedService) ModelInfo() ModelInfo {
	return c.inner.ModelInfo()
}

// CachedEmbedding reports the cached vector for text without touching the
// provider.
func (c *cachedService) CachedEmbedding(text string) ([]float32, bool) {
	vec, ok := c.cache.Get(cacheKey(text))
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}
