package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Embedder converts text into fixed-length dense vectors. Implementations
// must return one vector per input in the same order, substituting zero
// vectors for inputs that could not be embedded: a degraded embedding
// keeps ingestion and retrieval operational instead of fatal.
type Embedder interface {
	Embed(ctx context.Context, texts []string) [][]float64
	Dimension() int
}

// EmbedderConfig configures the HTTP embedder.
type EmbedderConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint. When no
// base URL is configured it runs permanently degraded and emits zero
// vectors for everything.
type HTTPEmbedder struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
	logger    *zap.Logger
}

// NewHTTPEmbedder creates a new HTTP embedder
func NewHTTPEmbedder(cfg EmbedderConfig, logger *zap.Logger) *HTTPEmbedder {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.BaseURL == "" {
		logger.Warn("embedding backend not configured, running degraded")
	}
	return &HTTPEmbedder{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// Dimension returns the fixed embedding dimensionality
func (e *HTTPEmbedder) Dimension() int {
	return e.dimension
}

// Embed embeds a batch of texts. The whole batch is attempted in one
// call; on failure each text is retried individually, and texts that
// still fail get a zero vector.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) [][]float64 {
	if len(texts) == 0 {
		return nil
	}
	if e.baseURL == "" {
		return e.zeroBatch(len(texts))
	}

	vectors, err := e.request(ctx, texts)
	if err == nil && len(vectors) == len(texts) {
		return vectors
	}
	if err != nil {
		e.logger.Warn("batch embedding failed, retrying per text", zap.Error(err))
	}

	out := make([][]float64, len(texts))
	for i, text := range texts {
		single, err := e.request(ctx, []string{text})
		if err != nil || len(single) != 1 {
			e.logger.Warn("embedding failed for text, using zero vector",
				zap.Int("index", i), zap.Error(err))
			out[i] = make([]float64, e.dimension)
			continue
		}
		out[i] = single[0]
	}
	return out
}

func (e *HTTPEmbedder) zeroBatch(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, e.dimension)
	}
	return out
}

func (e *HTTPEmbedder) request(ctx context.Context, texts []string) ([][]float64, error) {
	body := map[string]any{
		"model": e.model,
		"input": texts,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings API returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	vectors := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) != e.dimension {
			return nil, fmt.Errorf("embedding dimension %d, expected %d", len(d.Embedding), e.dimension)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
