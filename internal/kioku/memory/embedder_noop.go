package memory

import (
	"context"
	"fmt"
	"strings"
)

// NoopEmbedder is a stub Embedder that returns nil vectors. The indexer
// treats a nil vector as "nothing to write" and leaves the row untouched,
// so retrieval stays empty until a real provider is configured.
type NoopEmbedder struct{}

// Embed returns nil with no error, signalling that embedding is unavailable.
func (NoopEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, nil
}

var _ Embedder = NoopEmbedder{}

// NoopSummariser is a stub Summariser that concatenates the last 3 messages
// of the backlog as "role: content" lines.
type NoopSummariser struct{}

// Summarise returns up to the last 3 messages joined by newlines. Returns an
// empty string for empty input.
func (NoopSummariser) Summarise(_ context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	tail := messages[max(len(messages)-3, 0):]
	lines := make([]string, 0, len(tail))
	for _, m := range tail {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return strings.Join(lines, "\n"), nil
}

var _ Summariser = NoopSummariser{}
