package commands

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/bdobrica/kioku/common/trace"
	"github.com/bdobrica/kioku/internal/kioku/confirm"
	"github.com/bdobrica/kioku/internal/kioku/matrix"
	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// Transport sends replies into the chat.
type Transport interface {
	SendText(ctx context.Context, roomID, threadRoot, body string) (string, error)
	React(ctx context.Context, roomID, eventID, key string) error
}

// Store is what the bot needs from the persistent store.
type Store interface {
	ConversationForRoom(ctx context.Context, roomID string) (int64, error)
	ThreadForRoot(ctx context.Context, conversationID int64, rootEventID string) (memory.Thread, error)
	InsertMessage(ctx context.Context, m memory.Message) (int64, error)
}

// Searcher runs semantic retrieval.
type Searcher interface {
	Search(ctx context.Context, req memory.SearchRequest) ([]memory.Match, error)
}

// BacklogCounter reports unsummarised turns for a group.
type BacklogCounter interface {
	UnsummarizedCount(ctx context.Context, g memory.Group) (int, error)
}

// Config wires a Bot.
type Config struct {
	Transport Transport
	Store     Store
	Workflow  *confirm.Workflow
	Searcher  Searcher
	Embedder  memory.Embedder
	Backlog   BacklogCounter
	Assembler *memory.ContextAssembler

	// AssistantUsers are senders whose turns are logged with the assistant
	// role. Everyone else is logged as the user.
	AssistantUsers []string

	Logger *slog.Logger
}

// Replies sent after a confirmation decision.
const (
	replySaved   = "Saved."
	replySkipped = "Skipped, nothing was stored."
	replyUnknown = "There is nothing waiting for confirmation."
	replyFailed  = "Save failed, nothing was stored."
)

// Reaction keys mapped to confirmation actions.
const (
	reactSave = "✅"
	reactSkip = "❌"
)

// promptRef locates a confirmation prompt the bot sent.
type promptRef struct {
	conversationID int64
	roomID         string
	threadRoot     string
}

// Bot implements matrix.EventHandler.
type Bot struct {
	cfg    Config
	router *Router
	logger *slog.Logger

	mu      sync.Mutex
	prompts map[string]promptRef // prompt event id -> conversation
}

var _ matrix.EventHandler = (*Bot)(nil)

// NewBot creates a Bot with the /kioku commands registered.
func NewBot(cfg Config) *Bot {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		cfg:     cfg,
		router:  NewRouter(Prefix),
		logger:  logger,
		prompts: make(map[string]promptRef),
	}
	b.registerHandlers()
	return b
}

// OnMessage handles one inbound text message.
func (b *Bot) OnMessage(ctx context.Context, msg matrix.Message) {
	ctx, _ = trace.Ensure(ctx)
	log := trace.Logger(ctx, b.logger)

	turn, err := b.resolve(ctx, msg)
	if err != nil {
		log.Error("bot: resolve conversation failed", "room", msg.RoomID, "err", err)
		return
	}

	if action, ok := decisionReply(msg.Body); ok && b.cfg.Workflow.Pending().Has(turn.ConversationID) {
		b.decide(ctx, action, turn.ConversationID, msg.RoomID, msg.ThreadRoot)
		return
	}

	reply, err := b.router.Route(ctx, msg.Body, turn)
	switch {
	case errors.Is(err, ErrNotACommand):
		b.logTurn(ctx, turn)
		return
	case err != nil:
		log.Info("bot: command failed", "err", err)
		reply = "⚠️ " + err.Error()
	}
	if reply != "" {
		b.send(ctx, msg.RoomID, msg.ThreadRoot, reply)
	}
}

// OnReaction maps ✅ and ❌ on a confirmation prompt to save and skip.
func (b *Bot) OnReaction(ctx context.Context, r matrix.Reaction) {
	ctx, _ = trace.Ensure(ctx)

	var action confirm.Action
	switch strings.TrimSpace(strings.TrimSuffix(r.Key, "\ufe0f")) {
	case reactSave:
		action = confirm.ActionSave
	case reactSkip:
		action = confirm.ActionSkip
	default:
		return
	}

	b.mu.Lock()
	ref, ok := b.prompts[r.Target]
	b.mu.Unlock()
	if !ok || ref.roomID != r.RoomID {
		return
	}
	b.decide(ctx, action, ref.conversationID, ref.roomID, ref.threadRoot)
}

// decide hands the decision to the workflow and reports the outcome.
func (b *Bot) decide(ctx context.Context, action confirm.Action, conversationID int64, roomID, threadRoot string) {
	log := trace.Logger(ctx, b.logger)

	outcome, err := b.cfg.Workflow.HandleCallback(ctx, confirm.Token(action, conversationID), conversationID)
	b.forgetPrompts(conversationID)

	var reply string
	switch {
	case err != nil:
		log.Error("bot: confirmation failed", "conversation_id", conversationID, "err", err)
		reply = replyFailed
	case outcome == confirm.OutcomeSaved:
		reply = replySaved
	case outcome == confirm.OutcomeSkipped:
		reply = replySkipped
	default:
		reply = replyUnknown
	}
	b.send(ctx, roomID, threadRoot, reply)
}

func (b *Bot) resolve(ctx context.Context, msg matrix.Message) (*Turn, error) {
	convID, err := b.cfg.Store.ConversationForRoom(ctx, msg.RoomID)
	if err != nil {
		return nil, err
	}
	thread, err := b.cfg.Store.ThreadForRoot(ctx, convID, msg.ThreadRoot)
	if err != nil {
		return nil, err
	}
	return &Turn{
		RoomID:         msg.RoomID,
		EventID:        msg.EventID,
		Sender:         msg.Sender,
		Body:           msg.Body,
		ThreadRoot:     msg.ThreadRoot,
		ConversationID: convID,
		Thread:         thread,
		CreatedAt:      msg.Timestamp,
	}, nil
}

// logTurn stores the turn. Failures are logged and otherwise ignored.
func (b *Bot) logTurn(ctx context.Context, turn *Turn) {
	role := memory.RoleUser
	if slices.Contains(b.cfg.AssistantUsers, turn.Sender) {
		role = memory.RoleAssistant
	}
	_, err := b.cfg.Store.InsertMessage(ctx, memory.Message{
		ConversationID: turn.ConversationID,
		Thread:         turn.Thread,
		Role:           role,
		Content:        turn.Body,
		CreatedAt:      turn.CreatedAt,
	})
	if err != nil {
		trace.Logger(ctx, b.logger).Warn("bot: failed to log turn",
			"conversation_id", turn.ConversationID,
			"thread_id", turn.Thread.String(),
			"content_len", len(turn.Body),
			"err", err,
		)
	}
}

func (b *Bot) send(ctx context.Context, roomID, threadRoot, body string) string {
	eventID, err := b.cfg.Transport.SendText(ctx, roomID, threadRoot, body)
	if err != nil {
		trace.Logger(ctx, b.logger).Error("bot: send failed", "room", roomID, "err", err)
		return ""
	}
	return eventID
}

func (b *Bot) rememberPrompt(eventID string, ref promptRef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts[eventID] = ref
}

func (b *Bot) forgetPrompts(conversationID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for evt, ref := range b.prompts {
		if ref.conversationID == conversationID {
			delete(b.prompts, evt)
		}
	}
}

// decisionReply recognises a bare "save" or "skip" reply, or the matching
// emoji.
func decisionReply(body string) (confirm.Action, bool) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(body), ".!")) {
	case "save", reactSave:
		return confirm.ActionSave, true
	case "skip", reactSkip:
		return confirm.ActionSkip, true
	}
	return "", false
}
