package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// MockProvider generates deterministic pseudo-embeddings from a hash of the
// input text. It is the default provider when no API key is configured, so
// the system stays fully functional offline: identical texts map to identical
// unit vectors and different texts are very unlikely to collide.
type MockProvider struct {
	dimensions int
}

// NewMockProvider creates a mock provider with the given dimensionality.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 128
	}
	return &MockProvider{dimensions: dimensions}
}

// Generate returns a deterministic unit vector derived from text.
func (p *MockProvider) Generate(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimensions)

	// Stretch the digest over the vector by re-hashing with a counter.
	seed := sha256.Sum256([]byte(text))
	var norm float64
	for i := 0; i < p.dimensions; i++ {
		block := i / 8
		if i%8 == 0 && block > 0 {
			counter := make([]byte, len(seed)+1)
			copy(counter, seed[:])
			counter[len(seed)] = byte(block)
			seed = sha256.Sum256(counter)
		}
		bits := binary.LittleEndian.Uint32(seed[(i%8)*4 : (i%8)*4+4])
		// Map to [-1, 1).
		v := float64(int32(bits)) / float64(math.MaxInt32)
		vec[i] = float32(v)
		norm += v * v
	}

	// Normalize to unit length so cosine scores behave like a real model's.
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// GenerateBatch embeds each text independently.
func (p *MockProvider) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Generate(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// ModelInfo reports the mock model.
func (p *MockProvider) ModelInfo() ModelInfo {
	return ModelInfo{Name: "mock/deterministic-hash", Dimensions: p.dimensions}
}

var _ Service = (*MockProvider)(nil)
