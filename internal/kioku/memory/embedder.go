package memory

import "context"

// Embedder produces vector embeddings for text. Implementations range from
// a no-op stub (default) to langchaingo-backed OpenAI or Ollama models.
type Embedder interface {
	// Embed produces a vector embedding for the given text.
	// Returns nil with no error when embedding is not available (noop).
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summariser produces concise summaries of conversation transcripts.
// Summaries are stored as ConversationSummary rows and embedded like any
// other row for later recall.
type Summariser interface {
	// Summarise produces a concise summary of a conversation transcript.
	Summarise(ctx context.Context, messages []Message) (string, error)
}
