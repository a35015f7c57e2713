package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// summariserSystemPrompt keeps summaries short and focused on what a later
// turn would need to recall.
const summariserSystemPrompt = "Summarise this conversation in 2-3 sentences, focusing on facts the user shared, decisions made, and open questions."

// LLMSummariser implements Summariser with a langchaingo chat model.
type LLMSummariser struct {
	llm       llms.Model
	maxTokens int
}

// NewLLMSummariser wraps an existing langchaingo model.
func NewLLMSummariser(model llms.Model) *LLMSummariser {
	return &LLMSummariser{llm: model, maxTokens: 256}
}

// NewLLMSummariserFromConfig builds the chat client named by cfg.Provider.
func NewLLMSummariserFromConfig(cfg LangchainConfig) (*LLMSummariser, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("summariser openai: API key required")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("summariser openai: create client: %w", err)
		}
		return NewLLMSummariser(llm), nil

	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("summariser ollama: create client: %w", err)
		}
		return NewLLMSummariser(llm), nil
	}
	return nil, fmt.Errorf("summariser: unsupported provider %q", cfg.Provider)
}

// Summarise sends the transcript with a summarisation system prompt and
// returns the trimmed reply.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, summariserSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, formatTranscript(messages)),
	}

	resp, err := s.llm.GenerateContent(ctx, content, llms.WithMaxTokens(s.maxTokens))
	if err != nil {
		return "", fmt.Errorf("summariser llm: generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("summariser llm: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// formatTranscript renders messages as "role: content" lines.
func formatTranscript(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String()
}

var _ Summariser = (*LLMSummariser)(nil)
