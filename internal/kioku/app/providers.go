package app

import (
	"log/slog"

	"github.com/bdobrica/kioku/internal/kioku/config"
	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// NewEmbedder builds the configured embedding provider. The noop provider
// yields memory.NoopEmbedder, which leaves rows un-embedded.
func NewEmbedder(cfg config.ProviderConfig, logger *slog.Logger) (memory.Embedder, error) {
	if cfg.Provider == "" || cfg.Provider == memory.ProviderNoop {
		return memory.NoopEmbedder{}, nil
	}
	e, err := memory.NewLangchainEmbedder(cfg.Langchain())
	if err != nil {
		return nil, err
	}
	return e.WithLogger(logger), nil
}

// NewSummariser builds the configured summariser.
func NewSummariser(cfg config.ProviderConfig) (memory.Summariser, error) {
	if cfg.Provider == "" || cfg.Provider == memory.ProviderNoop {
		return memory.NoopSummariser{}, nil
	}
	return memory.NewLLMSummariserFromConfig(cfg.Langchain())
}
