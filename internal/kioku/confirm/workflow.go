package confirm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// MemoryWriter commits confirmed memory items in one batch.
type MemoryWriter interface {
	InsertMemoryItems(ctx context.Context, items []memory.MemoryItem) ([]int64, error)
}

// Prompt is what the chat transport shows the user.
type Prompt struct {
	Text    string
	Buttons []Button
}

// Workflow drives a conversation from candidates to committed memory items.
type Workflow struct {
	pending PendingStore
	writer  MemoryWriter
	logger  *slog.Logger
}

// NewWorkflow creates a Workflow. If logger is nil, the default slog logger
// is used.
func NewWorkflow(pending PendingStore, writer MemoryWriter, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{pending: pending, writer: writer, logger: logger}
}

// Pending exposes the underlying store for status reporting.
func (w *Workflow) Pending() PendingStore {
	return w.pending
}

// Present records c as the conversation's pending confirmation, replacing
// any earlier one, and returns the prompt to show. When c holds nothing it
// leaves the pending state untouched and returns false.
func (w *Workflow) Present(conversationID int64, thread memory.Thread, c Candidates) (Prompt, bool) {
	text := BuildPrompt(c)
	if text == "" {
		return Prompt{}, false
	}

	replaced := w.pending.Has(conversationID)
	w.pending.Set(conversationID, Pending{Candidates: c, Thread: thread})

	w.logger.Info("memory confirmation presented",
		"conversation_id", conversationID,
		"thread_id", thread.String(),
		"candidates", c.Count(),
		"replaced", replaced,
	)
	return Prompt{Text: text, Buttons: BuildKeyboard(conversationID)}, true
}

// HandleCallback applies the user's decision encoded in token.
//
// It returns OutcomeUnknown when the token is not a confirmation token,
// names a different conversation, or no confirmation is pending (including
// a repeat of an already handled token). A malformed confirmation token
// additionally returns a *memory.ValidationError.
//
// On save the pending entry is removed before writing, whatever the write's
// result. A failed write returns the *memory.PersistenceError with an empty
// Outcome; nothing was stored and the user is not asked again.
func (w *Workflow) HandleCallback(ctx context.Context, token string, conversationID int64) (Outcome, error) {
	action, tokenConv, err := ParseToken(token)
	if errors.Is(err, ErrNotConfirmation) {
		return OutcomeUnknown, nil
	}
	if err != nil {
		return OutcomeUnknown, err
	}
	if tokenConv != conversationID {
		w.logger.Debug("memory confirmation: token for another conversation",
			"conversation_id", conversationID, "token_conversation_id", tokenConv)
		return OutcomeUnknown, nil
	}

	p, ok := w.pending.Take(conversationID)
	if !ok {
		return OutcomeUnknown, nil
	}

	if action == ActionSkip {
		w.logger.Info("memory confirmation skipped",
			"conversation_id", conversationID,
			"candidates", p.Candidates.Count(),
		)
		return OutcomeSkipped, nil
	}

	items := p.Candidates.Items(conversationID, p.Thread)
	if len(items) > 0 {
		if _, err := w.writer.InsertMemoryItems(ctx, items); err != nil {
			w.logger.Error("memory confirmation: save failed",
				"conversation_id", conversationID,
				"items", len(items),
				"err", err,
			)
			return "", memory.Persistence("save confirmed memories", err)
		}
	}

	w.logger.Info("memory confirmation saved",
		"conversation_id", conversationID,
		"thread_id", p.Thread.String(),
		"items", len(items),
	)
	return OutcomeSaved, nil
}
