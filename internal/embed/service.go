package embed

import (
	"context"
	"log/slog"

	"github.com/docuflow/docuflow/internal/config"
	flowerr "github.com/docuflow/docuflow/internal/errors"
)

// MaxInputChars bounds the text sent to the embedding model per input.
const MaxInputChars = 10000

// Service applies the pipeline's batch embedding policy on top of an
// Embedder: inputs are truncated to MaxInputChars, each failed input is
// replaced by a zero vector, and the batch as a whole never fails.
type Service struct {
	embedder Embedder
	logger   *slog.Logger
}

// NewService wraps an embedder with the batch policy.
func NewService(embedder Embedder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{embedder: embedder, logger: logger}
}

// Result is one embedded input. ZeroVector marks an input whose
// embedding failed and was substituted; such records stay retry-eligible
// in the index.
type Result struct {
	Vector     []float32
	ZeroVector bool
}

// EmbedTexts embeds every input, substituting a zero vector on failure.
// The returned slice always has len(texts) entries in input order.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) []Result {
	results := make([]Result, len(texts))
	if len(texts) == 0 {
		return results
	}

	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = Truncate(t, MaxInputChars)
	}

	vectors, err := s.embedder.EmbedBatch(ctx, truncated)
	if err == nil && len(vectors) == len(texts) {
		for i, v := range vectors {
			results[i] = Result{Vector: v, ZeroVector: IsZeroVector(v)}
		}
		return results
	}

	// Batch call failed; retry input by input so one bad text cannot
	// poison its neighbors.
	if err != nil {
		s.logger.Warn("embedding batch failed, retrying per input",
			slog.Int("batch_size", len(texts)),
			slog.String("error", err.Error()))
	}
	for i, t := range truncated {
		v, embedErr := s.embedder.Embed(ctx, t)
		if embedErr != nil || len(v) != s.embedder.Dimensions() {
			if embedErr != nil {
				s.logger.Error("embedding failed, storing zero vector",
					slog.Int("input_index", i),
					slog.String("code", flowerr.CodeOf(embedErr)),
					slog.String("error", embedErr.Error()))
			}
			results[i] = Result{Vector: ZeroVector(s.embedder.Dimensions()), ZeroVector: true}
			continue
		}
		results[i] = Result{Vector: v, ZeroVector: IsZeroVector(v)}
	}
	return results
}

// Dimensions returns the underlying embedder's vector dimension.
func (s *Service) Dimensions() int { return s.embedder.Dimensions() }

// Truncate cuts s to at most max runes without splitting a rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// New builds the configured embedder chain: provider backend wrapped in
// an LRU cache.
func New(cfg config.EmbeddingsConfig, logger *slog.Logger) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)
	switch cfg.Provider {
	case "static", "":
		embedder = NewStaticEmbedder(cfg.Dimensions)
	case "openai":
		embedder, err = NewOpenAIEmbedder(OpenAIConfig{
			Endpoint:   cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, flowerr.InvalidInput("unknown embedding provider: "+cfg.Provider, nil)
	}
	if err != nil {
		return nil, err
	}

	cached, err := NewCachedEmbedder(embedder, cfg.CacheSize)
	if err != nil {
		embedder.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("embedder ready",
			slog.String("model", cached.ModelName()),
			slog.Int("dimensions", cached.Dimensions()))
	}
	return cached, nil
}
