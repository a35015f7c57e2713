package confirm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

const (
	// TokenPrefix namespaces confirmation tokens.
	TokenPrefix = "memconf:"

	promptLeadIn  = "I noticed a few things that might be worth remembering:"
	promptClosing = "Save these?"
)

// BuildPrompt renders the candidates as a bulleted list framed by a fixed
// lead-in and closing question. Empty categories are omitted. It returns
// "" when there is nothing to confirm; callers must not send a message
// in that case.
func BuildPrompt(c Candidates) string {
	var body strings.Builder
	for _, cat := range c.categories() {
		var lines []string
		for _, s := range cat.items {
			if s = strings.TrimSpace(s); s != "" {
				lines = append(lines, "• "+s)
			}
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&body, "%s:\n%s\n\n", cat.title, strings.Join(lines, "\n"))
	}
	if body.Len() == 0 {
		return ""
	}
	return promptLeadIn + "\n\n" + body.String() + promptClosing
}

// Button is one control of the confirmation keyboard.
type Button struct {
	Label string
	Token string
}

// BuildKeyboard returns the save and skip controls for a conversation.
func BuildKeyboard(conversationID int64) []Button {
	return []Button{
		{Label: "✅ Save", Token: Token(ActionSave, conversationID)},
		{Label: "❌ Skip", Token: Token(ActionSkip, conversationID)},
	}
}

// Token encodes an action for a conversation.
func Token(action Action, conversationID int64) string {
	return TokenPrefix + string(action) + ":" + strconv.FormatInt(conversationID, 10)
}

// ErrNotConfirmation is returned by ParseToken for tokens outside the
// confirmation namespace.
var ErrNotConfirmation = errors.New("not a memory confirmation token")

// ParseToken decodes a token produced by Token. Tokens without the
// "memconf:" prefix yield ErrNotConfirmation; prefixed tokens with an
// unknown action or a bad id yield a *memory.ValidationError.
func ParseToken(token string) (Action, int64, error) {
	rest, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok {
		return "", 0, ErrNotConfirmation
	}

	action, idText, ok := strings.Cut(rest, ":")
	if !ok {
		return "", 0, &memory.ValidationError{Field: "token", Reason: "missing conversation id"}
	}

	switch Action(action) {
	case ActionSave, ActionSkip:
	default:
		return "", 0, &memory.ValidationError{Field: "token", Reason: fmt.Sprintf("unknown action %q", action)}
	}

	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		return "", 0, &memory.ValidationError{Field: "token", Reason: fmt.Sprintf("bad conversation id %q", idText)}
	}
	return Action(action), id, nil
}
