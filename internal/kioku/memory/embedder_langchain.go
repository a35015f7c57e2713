package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider names accepted by NewLangchainEmbedder and NewLLMSummariserFromConfig.
const (
	ProviderNoop   = "noop"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// LangchainConfig selects and configures a langchaingo model client.
type LangchainConfig struct {
	// Provider is "openai" or "ollama".
	Provider string

	// Model is the provider-specific model name.
	Model string

	// BaseURL overrides the API endpoint (OpenAI-compatible proxies, a
	// non-default Ollama host).
	BaseURL string

	// APIKey is required for openai.
	APIKey string

	// Dimension, when positive, is enforced on every returned vector.
	Dimension int
}

// LangchainEmbedder implements Embedder on top of a langchaingo embedder.
// It is safe for concurrent use.
type LangchainEmbedder struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
	logger    *slog.Logger
}

// NewLangchainEmbedder builds the client named by cfg.Provider.
func NewLangchainEmbedder(cfg LangchainConfig) (*LangchainEmbedder, error) {
	var client embeddings.EmbedderClient

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder openai: API key required")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithEmbeddingModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("embedder openai: create client: %w", err)
		}
		client = llm

	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("embedder ollama: create client: %w", err)
		}
		client = llm

	default:
		return nil, fmt.Errorf("embedder: unsupported provider %q", cfg.Provider)
	}

	return NewLangchainEmbedderFromClient(client, cfg.Model, cfg.Dimension)
}

// NewLangchainEmbedderFromClient wraps an existing langchaingo client.
func NewLangchainEmbedderFromClient(client embeddings.EmbedderClient, model string, dimension int) (*LangchainEmbedder, error) {
	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("embedder: wrap client: %w", err)
	}
	return &LangchainEmbedder{embedder: e, model: model, dimension: dimension, logger: slog.Default()}, nil
}

// WithLogger sets the logger used for per-call diagnostics and returns e.
// A nil logger leaves the current one in place.
func (e *LangchainEmbedder) WithLogger(logger *slog.Logger) *LangchainEmbedder {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// Embed returns the vector for text. Empty text yields nil.
func (e *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	start := time.Now()
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Warn("embedding failed", "model", e.model, "text_len", len(text),
			"duration_ms", time.Since(start).Milliseconds(), "err", err)
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embed: no embedding returned")
	}
	if e.dimension > 0 && len(vec) != e.dimension {
		return nil, fmt.Errorf("embed: dimension mismatch: got %d, want %d", len(vec), e.dimension)
	}

	e.logger.Debug("embedding complete", "model", e.model, "text_len", len(text),
		"duration_ms", time.Since(start).Milliseconds())
	return vec, nil
}

// Model returns the configured model name.
func (e *LangchainEmbedder) Model() string {
	return e.model
}

var _ Embedder = (*LangchainEmbedder)(nil)
