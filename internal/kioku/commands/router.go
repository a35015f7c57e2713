// Package commands turns chat traffic into memory operations: it logs
// conversation turns, routes "/kioku ..." commands, and maps confirmation
// replies and reactions onto the confirmation workflow.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// Prefix is the command prefix kioku listens for.
const Prefix = "/kioku"

// Command represents a parsed command.
type Command struct {
	Name       string
	Subcommand string
	Args       []string
	Flags      map[string]string
	RawText    string
}

// Turn is one inbound chat message resolved to memory identifiers.
type Turn struct {
	RoomID         string
	EventID        string
	Sender         string
	Body           string
	ThreadRoot     string
	ConversationID int64
	Thread         memory.Thread
	CreatedAt      time.Time
}

// Group returns the turn's exact (conversation, thread) group.
func (t *Turn) Group() memory.Group {
	return memory.Group{ConversationID: t.ConversationID, Thread: t.Thread}
}

// ErrNotACommand is returned by Parse when the message does not start with
// the command prefix.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// Handler handles one command and returns the reply text. An empty reply
// means the handler already answered.
type Handler func(ctx context.Context, cmd *Command, turn *Turn) (string, error)

// Router routes commands to handlers.
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a new command router.
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register registers a command handler under "name" or "name.sub".
func (r *Router) Register(command string, handler Handler) {
	r.handlers[command] = handler
}

// Parse parses a message into a command.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)

	rest, ok := strings.CutPrefix(text, r.prefix)
	if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '\t' && rest[0] != '\n') {
		return nil, ErrNotACommand
	}

	text = strings.TrimSpace(rest)
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := &Command{
		Name:    strings.ToLower(parts[0]),
		Args:    []string{},
		Flags:   make(map[string]string),
		RawText: text,
	}

	if len(parts) > 1 {
		if !strings.HasPrefix(parts[1], "-") {
			cmd.Subcommand = parts[1]
			parts = parts[2:]
		} else {
			parts = parts[1:]
		}

		for i := 0; i < len(parts); i++ {
			part := parts[i]
			if flagName, ok := strings.CutPrefix(part, "--"); ok {
				if i+1 < len(parts) && !strings.HasPrefix(parts[i+1], "--") {
					cmd.Flags[flagName] = parts[i+1]
					i++
				} else {
					cmd.Flags[flagName] = "true"
				}
				continue
			}
			cmd.Args = append(cmd.Args, part)
		}
	}

	return cmd, nil
}

// Route parses and routes a command to its handler.
func (r *Router) Route(ctx context.Context, text string, turn *Turn) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}

	handlerKey := cmd.Name
	if cmd.Subcommand != "" {
		handlerKey = cmd.Name + "." + cmd.Subcommand
	}

	handler, ok := r.handlers[handlerKey]
	if !ok {
		handler, ok = r.handlers[cmd.Name]
		if !ok {
			return "", fmt.Errorf("unknown command: %s", cmd.Name)
		}
	}
	return handler(ctx, cmd, turn)
}

// GetFlag returns a flag value with a default.
func (c *Command) GetFlag(name, defaultValue string) string {
	if val, ok := c.Flags[name]; ok {
		return val
	}
	return defaultValue
}

// HasFlag checks if a flag is present.
func (c *Command) HasFlag(name string) bool {
	_, ok := c.Flags[name]
	return ok
}

// Text returns the free text following the command name, flags removed.
func (c *Command) Text() string {
	words := c.Args
	if c.Subcommand != "" {
		words = append([]string{c.Subcommand}, c.Args...)
	}
	return strings.Join(words, " ")
}

// Body returns the raw text after the command name, flags included.
func (c *Command) Body() string {
	i := strings.IndexFunc(c.RawText, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(c.RawText[i:])
}
