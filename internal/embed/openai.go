package embed

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	flowerr "github.com/docuflow/docuflow/internal/errors"
)

// OpenAIConfig configures the OpenAI-compatible embedding backend.
type OpenAIConfig struct {
	// Endpoint overrides the API base URL (vLLM, LiteLLM, Azure gateways).
	Endpoint string
	// APIKey falls back to OPENAI_API_KEY when empty.
	APIKey string
	Model  string
	// Dimensions is the expected output dimension. Responses with a
	// different dimension are rejected.
	Dimensions int
	Timeout    time.Duration
}

// DefaultOpenAIConfig returns production defaults.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:      string(openai.SmallEmbedding3),
		Dimensions: 1024,
		Timeout:    60 * time.Second,
	}
}

// OpenAIEmbedder generates embeddings through any OpenAI-compatible API.
type OpenAIEmbedder struct {
	client *openai.Client
	cfg    OpenAIConfig

	mu     sync.RWMutex
	closed bool
}

// NewOpenAIEmbedder creates an embedder backed by an OpenAI-compatible API.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, flowerr.InvalidInput("embedding model is required", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, flowerr.InvalidInput("embedding dimensions must be positive", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one API call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.cfg.Model),
		Dimensions: e.cfg.Dimensions,
	})
	if err != nil {
		return nil, flowerr.New(flowerr.CodeEmbedder, "embedding request failed", err).WithDetail("model", e.cfg.Model)
	}
	if len(resp.Data) != len(texts) {
		return nil, flowerr.New(flowerr.CodeEmbedder,
			fmt.Sprintf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts)), nil)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, flowerr.New(flowerr.CodeEmbedder, fmt.Sprintf("embedding response index %d out of range", d.Index), nil)
		}
		if len(d.Embedding) != e.cfg.Dimensions {
			return nil, flowerr.New(flowerr.CodeEmbedder,
				fmt.Sprintf("embedding dimension %d, want %d", len(d.Embedding), e.cfg.Dimensions), nil)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Dimensions returns the configured vector dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.cfg.Dimensions }

// ModelName returns the backing model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.cfg.Model }

// Available probes the backend with a tiny request.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.EmbedBatch(ctx, []string{"ping"})
	return err == nil
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Verify interface implementation at compile time.
var _ Embedder = (*OpenAIEmbedder)(nil)
