// Package matrix is kioku's chat transport: it syncs with a Matrix
// homeserver, turns room messages and reactions into transport-neutral
// events, and sends replies (optionally inside a thread) with retries.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/kioku/common/redact"
	"github.com/bdobrica/kioku/common/retry"
	"github.com/bdobrica/kioku/common/trace"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string

	// Rooms limits which rooms kioku listens in. Empty means every room the
	// account has joined.
	Rooms []string

	// DB persists the sync token across restarts. When nil an in-memory
	// store is used and history is replayed on every start.
	DB *sql.DB

	// Retry governs outbound sends. Zero value uses retry.DefaultConfig.
	Retry retry.Config

	Logger *slog.Logger
}

// Message is one inbound text message.
type Message struct {
	RoomID     string
	EventID    string
	Sender     string
	Body       string
	ThreadRoot string // "" outside a thread
	Timestamp  time.Time
}

// Reaction is one inbound annotation on an earlier event.
type Reaction struct {
	RoomID  string
	EventID string
	Sender  string
	Target  string
	Key     string
}

// EventHandler receives inbound events.
type EventHandler interface {
	OnMessage(ctx context.Context, msg Message)
	OnReaction(ctx context.Context, r Reaction)
}

// Client wraps the mautrix client.
type Client struct {
	client   *mautrix.Client
	config   Config
	logger   *slog.Logger
	handler  EventHandler
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Client. It does not contact the homeserver.
func New(config Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultConfig
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if config.DB != nil {
		client.Store = NewSyncStore(config.DB)
		logger.Info("matrix: using persistent sync store")
	} else {
		logger.Warn("matrix: no DB configured, history will replay on restart")
	}

	return &Client{
		client: client,
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Start joins the configured rooms and begins syncing in the background,
// reconnecting with exponential back-off until Stop is called or ctx ends.
func (c *Client) Start(ctx context.Context, handler EventHandler) error {
	c.handler = handler

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("matrix: unexpected syncer type %T", c.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.EventReaction, c.handleReaction)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("matrix: join room %s: %w", roomID, err)
		}
	}

	go c.syncLoop(ctx)
	return nil
}

func (c *Client) syncLoop(ctx context.Context) {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := c.client.SyncWithContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		select {
		case <-c.stopCh:
			return
		default:
		}
		c.logger.Error("matrix: sync stopped, reconnecting",
			"err", redact.Error(err, c.config.AccessToken), "backoff", backoff)
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop ends syncing. Safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.client.StopSync()
	})
}

// UserID returns the bot's own user id.
func (c *Client) UserID() string {
	return c.config.UserID
}

// SendText posts body to roomID, inside the thread rooted at threadRoot when
// it is non-empty, and returns the new event id.
func (c *Client) SendText(ctx context.Context, roomID, threadRoot, body string) (string, error) {
	content := textContent(body, threadRoot)
	var eventID string
	err := retry.Do(ctx, c.config.Retry, func(ctx context.Context) error {
		resp, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
		if err != nil {
			return classify(err)
		}
		eventID = resp.EventID.String()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("matrix: send message: %w", err)
	}
	return eventID, nil
}

// React annotates eventID with key.
func (c *Client) React(ctx context.Context, roomID, eventID, key string) error {
	err := retry.Do(ctx, c.config.Retry, func(ctx context.Context) error {
		_, err := c.client.SendReaction(ctx, id.RoomID(roomID), id.EventID(eventID), key)
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("matrix: send reaction: %w", err)
	}
	return nil
}

// classify marks errors that a retry cannot fix.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mautrix.MForbidden) || errors.Is(err, mautrix.MUnknownToken) {
		return retry.Permanent(err)
	}
	return err
}

func (c *Client) listening(roomID string) bool {
	return len(c.config.Rooms) == 0 || slices.Contains(c.config.Rooms, roomID)
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) || !c.listening(evt.RoomID.String()) {
		return
	}
	msg, ok := messageFromEvent(evt)
	if !ok || c.handler == nil {
		return
	}
	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	c.handler.OnMessage(ctx, msg)
}

func (c *Client) handleReaction(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) || !c.listening(evt.RoomID.String()) {
		return
	}
	r, ok := reactionFromEvent(evt)
	if !ok || c.handler == nil {
		return
	}
	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	c.handler.OnReaction(ctx, r)
}

// messageFromEvent extracts a text message. Edits and non-text messages are
// ignored.
func messageFromEvent(evt *event.Event) (Message, bool) {
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText || content.Body == "" {
		return Message{}, false
	}
	msg := Message{
		RoomID:    evt.RoomID.String(),
		EventID:   evt.ID.String(),
		Sender:    evt.Sender.String(),
		Body:      content.Body,
		Timestamp: time.UnixMilli(evt.Timestamp).UTC(),
	}
	if rel := content.RelatesTo; rel != nil {
		switch rel.Type {
		case event.RelReplace:
			return Message{}, false
		case event.RelThread:
			msg.ThreadRoot = rel.EventID.String()
		}
	}
	return msg, true
}

func reactionFromEvent(evt *event.Event) (Reaction, bool) {
	content := evt.Content.AsReaction()
	if content == nil || content.RelatesTo.Type != event.RelAnnotation || content.RelatesTo.EventID == "" {
		return Reaction{}, false
	}
	return Reaction{
		RoomID:  evt.RoomID.String(),
		EventID: evt.ID.String(),
		Sender:  evt.Sender.String(),
		Target:  content.RelatesTo.EventID.String(),
		Key:     content.RelatesTo.Key,
	}, true
}

func textContent(body, threadRoot string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body,
	}
	if threadRoot != "" {
		content.RelatesTo = &event.RelatesTo{
			Type:    event.RelThread,
			EventID: id.EventID(threadRoot),
		}
	}
	return content
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// Homeservers answer M_FORBIDDEN when already joined.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("matrix: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
