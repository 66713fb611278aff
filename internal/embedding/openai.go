package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// OpenAIConfig holds configuration for the OpenAI embedding provider. Setting
// AzureEndpoint switches the client to Azure OpenAI semantics: the deployment
// URL scheme, the api-key header, and an api-version query parameter.
type OpenAIConfig struct {
	APIKey     string
	Model      string // default: text-embedding-3-small
	Dimensions int    // default: 1536
	BaseURL    string // default: https://api.openai.com

	// AzureEndpoint, when set, is the Azure resource endpoint, e.g.
	// https://myresource.openai.azure.com. Model is used as the deployment
	// name.
	AzureEndpoint   string
	AzureAPIVersion string // default: 2024-02-01

	Timeout time.Duration // default: 30s
}

// OpenAIProvider implements Service against the OpenAI embeddings API.
type OpenAIProvider struct {
	cfg            OpenAIConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.AzureAPIVersion == "" {
		cfg.AzureAPIVersion = "2024-02-01"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	name := "openai-embeddings"
	if cfg.AzureEndpoint != "" {
		name = "azure-openai-embeddings"
	}
	return &OpenAIProvider{
		cfg:            cfg,
		client:         &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreaker(name),
	}
}

// openAIEmbeddingRequest is the request body for POST /v1/embeddings.
// Azure uses the same body without the model field; sending it is accepted.
type openAIEmbeddingRequest struct {
	Model      string   `json:"model,omitempty"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Generate embeds a single text.
func (p *OpenAIProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// GenerateBatch embeds texts in one API call.
func (p *OpenAIProvider) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result, err := p.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return p.generateBatch(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: openai circuit breaker open", ErrProviderUnavailable)
		}
		return nil, err
	}
	return result.([][]float32), nil
}

func (p *OpenAIProvider) generateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	reqBody := openAIEmbeddingRequest{Input: texts}
	if p.cfg.AzureEndpoint == "" {
		reqBody.Model = p.cfg.Model
		// text-embedding-3-* models accept a requested dimensionality.
		reqBody.Dimensions = p.cfg.Dimensions
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint(), bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.AzureEndpoint != "" {
		req.Header.Set("api-key", p.cfg.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(respData.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(respData.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, item := range respData.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("openai returned out-of-range index %d", item.Index)
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		vecs[item.Index] = vec
	}
	for i, vec := range vecs {
		if len(vec) == 0 {
			return nil, fmt.Errorf("openai returned empty embedding for input %d", i)
		}
	}
	return vecs, nil
}

func (p *OpenAIProvider) endpoint() string {
	if p.cfg.AzureEndpoint != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
			p.cfg.AzureEndpoint, url.PathEscape(p.cfg.Model), url.QueryEscape(p.cfg.AzureAPIVersion))
	}
	return p.cfg.BaseURL + "/v1/embeddings"
}

// ModelInfo reports the configured model.
func (p *OpenAIProvider) ModelInfo() ModelInfo {
	prefix := "openai"
	if p.cfg.AzureEndpoint != "" {
		prefix = "azure-openai"
	}
	return ModelInfo{Name: prefix + "/" + p.cfg.Model, Dimensions: p.cfg.Dimensions}
}

var _ Service = (*OpenAIProvider)(nil)
