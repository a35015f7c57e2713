package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Recall is the memory gathered for one assistant turn.
type Recall struct {
	Memories  []Match
	Summaries []Match
	Messages  []Match
}

// Empty reports whether nothing was recalled.
func (r Recall) Empty() bool {
	return len(r.Memories) == 0 && len(r.Summaries) == 0 && len(r.Messages) == 0
}

// ContextAssembler gathers recall context for the assistant. It embeds the
// current message once and searches memory items, summaries and messages of
// the conversation across all of its threads.
//
// Assembly strategy:
//  1. Embed the current message. A nil vector (noop embedder) yields an
//     empty Recall.
//  2. Search each kind with its own threshold and the default limit.
//  3. Render within a token budget: memory items first, then summaries,
//     then individual messages.
type ContextAssembler struct {
	Retriever *Retriever
	Embedder  Embedder
	Threshold float64 // similarity threshold for every kind (default: DefaultThreshold)
	MaxTokens int     // budget used by Render (default: DefaultMaxTokens)
	Logger    *slog.Logger
}

// DefaultMaxTokens is the default token budget for the rendered block.
const DefaultMaxTokens = 2000

// Assemble returns the recall for currentMsg in conversationID.
func (a *ContextAssembler) Assemble(ctx context.Context, conversationID int64, currentMsg string) (Recall, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := a.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	vec, err := a.Embedder.Embed(ctx, currentMsg)
	if err != nil {
		return Recall{}, &ProviderError{Op: "embed query", Err: err}
	}
	if vec == nil {
		return Recall{}, nil
	}

	filter := ForConversation(conversationID)
	search := func(kind Kind) ([]Match, error) {
		req := NewSearch(kind, vec)
		req.Threshold = threshold
		req.Filter = filter
		return a.Retriever.Search(ctx, req)
	}

	var rc Recall
	if rc.Memories, err = search(KindMemory); err != nil {
		return Recall{}, err
	}
	if rc.Summaries, err = search(KindSummary); err != nil {
		return Recall{}, err
	}
	if rc.Messages, err = search(KindMessage); err != nil {
		return Recall{}, err
	}

	logger.Debug("memory: recall assembled",
		"conversation_id", conversationID,
		"memories", len(rc.Memories),
		"summaries", len(rc.Summaries),
		"messages", len(rc.Messages),
	)
	return rc, nil
}

// Render formats rc as a plain-text context block, dropping lines once the
// token budget is spent. Returns "" for an empty recall.
func (a *ContextAssembler) Render(rc Recall) string {
	budget := a.MaxTokens
	if budget <= 0 {
		budget = DefaultMaxTokens
	}

	var lines []string
	used := 0
	add := func(line string) bool {
		cost := estimateTokens(line)
		if used+cost > budget {
			return false
		}
		lines = append(lines, line)
		used += cost
		return true
	}

	sections := []struct {
		title   string
		matches []Match
		format  func(Match) string
	}{
		{"Known about the user:", rc.Memories, func(m Match) string { return "- " + m.Content }},
		{"Earlier conversation summaries:", rc.Summaries, func(m Match) string {
			return fmt.Sprintf("- (%s) %s", m.CreatedAt.Format(time.DateOnly), m.Content)
		}},
		{"Related earlier messages:", rc.Messages, func(m Match) string { return "- " + m.Content }},
	}

	for _, s := range sections {
		if len(s.matches) == 0 {
			continue
		}
		if !add(s.title) {
			break
		}
		full := true
		for _, m := range s.matches {
			if !add(s.format(m)) {
				full = false
				break
			}
		}
		if !full {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// estimateTokens approximates the token count of s at four characters per
// token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
