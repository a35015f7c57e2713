package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bdobrica/kioku/common/trace"
	"github.com/bdobrica/kioku/internal/kioku/confirm"
	"github.com/bdobrica/kioku/internal/kioku/memory"
)

const helpText = `kioku commands:
/kioku remember fact: … ; preference: … ; goal: … ; date: …
/kioku search <text> [--kind message|memory|summary] [--threshold 0.7] [--limit N] [--thread]
/kioku recall <text>
/kioku backlog
/kioku help`

func (b *Bot) registerHandlers() {
	b.router.Register("help", b.handleHelp)
	b.router.Register("remember", b.handleRemember)
	b.router.Register("search", b.handleSearch)
	b.router.Register("recall", b.handleRecall)
	b.router.Register("backlog", b.handleBacklog)
}

func (b *Bot) handleHelp(context.Context, *Command, *Turn) (string, error) {
	return helpText, nil
}

// handleRemember proposes candidate memories and asks for confirmation.
func (b *Bot) handleRemember(ctx context.Context, cmd *Command, turn *Turn) (string, error) {
	c, err := ParseCandidates(cmd.Body())
	if err != nil {
		return "", err
	}
	prompt, ok := b.cfg.Workflow.Present(turn.ConversationID, turn.Thread, c)
	if !ok {
		return "Nothing to remember.", nil
	}

	body := prompt.Text + "\n\n" + keyboardHint(prompt.Buttons)
	eventID := b.send(ctx, turn.RoomID, turn.ThreadRoot, body)
	if eventID == "" {
		// The user never saw the prompt, so nothing may be decided on it.
		b.cfg.Workflow.Pending().Clear(turn.ConversationID)
		return "", nil
	}

	b.forgetPrompts(turn.ConversationID)
	b.rememberPrompt(eventID, promptRef{
		conversationID: turn.ConversationID,
		roomID:         turn.RoomID,
		threadRoot:     turn.ThreadRoot,
	})

	// Pre-seed the reactions so the user only has to tap one.
	for _, key := range []string{reactSave, reactSkip} {
		if err := b.cfg.Transport.React(ctx, turn.RoomID, eventID, key); err != nil {
			trace.Logger(ctx, b.logger).Warn("bot: seed reaction failed", "key", key, "err", err)
		}
	}
	return "", nil
}

// keyboardHint renders the buttons as text for transports without inline
// keyboards.
func keyboardHint(buttons []confirm.Button) string {
	labels := make([]string, 0, len(buttons))
	for _, btn := range buttons {
		labels = append(labels, btn.Label)
	}
	return "React " + strings.Join(labels, " / ") + ", or reply save / skip."
}

func (b *Bot) handleSearch(ctx context.Context, cmd *Command, turn *Turn) (string, error) {
	query := cmd.Text()
	if query == "" {
		return "", fmt.Errorf("usage: /kioku search <text>")
	}

	kind := memory.Kind(cmd.GetFlag("kind", string(memory.KindMemory)))
	if _, err := kind.Table(); err != nil {
		return "", err
	}

	vec, err := b.cfg.Embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embedding failed")
	}
	if vec == nil {
		return "Search is unavailable: no embedding provider is configured.", nil
	}

	req := memory.NewSearch(kind, vec)
	req.Filter = memory.ForConversation(turn.ConversationID)
	if cmd.HasFlag("thread") && turn.Thread.Set {
		req.Filter = req.Filter.WithThread(turn.Thread.ID)
	}
	if v := cmd.GetFlag("threshold", ""); v != "" {
		if req.Threshold, err = strconv.ParseFloat(v, 64); err != nil {
			return "", fmt.Errorf("invalid --threshold %q", v)
		}
	}
	if v := cmd.GetFlag("limit", ""); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			return "", fmt.Errorf("invalid --limit %q", v)
		}
	}

	matches, err := b.cfg.Searcher.Search(ctx, req)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No matches.", nil
	}
	return FormatMatches(matches), nil
}

// FormatMatches renders retrieval hits one per line, best first.
func FormatMatches(matches []memory.Match) string {
	var sb strings.Builder
	for i, m := range matches {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. (%.2f) %s", i+1, m.Similarity, m.Content)
	}
	return sb.String()
}

func (b *Bot) handleRecall(ctx context.Context, cmd *Command, turn *Turn) (string, error) {
	if b.cfg.Assembler == nil {
		return "", fmt.Errorf("recall is not configured")
	}
	query := cmd.Text()
	if query == "" {
		return "", fmt.Errorf("usage: /kioku recall <text>")
	}
	rc, err := b.cfg.Assembler.Assemble(ctx, turn.ConversationID, query)
	if err != nil {
		return "", err
	}
	out := b.cfg.Assembler.Render(rc)
	if out == "" {
		return "Nothing relevant remembered.", nil
	}
	return out, nil
}

func (b *Bot) handleBacklog(ctx context.Context, _ *Command, turn *Turn) (string, error) {
	n, err := b.cfg.Backlog.UnsummarizedCount(ctx, turn.Group())
	if err != nil {
		return "", err
	}
	where := "this conversation"
	if turn.Thread.Set {
		where = "this thread"
	}
	return fmt.Sprintf("%d messages in %s since the last summary.", n, where), nil
}
