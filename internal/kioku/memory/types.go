// Package memory implements thread-aware conversational memory for kioku:
// semantic retrieval over stored embeddings, the summarisation backlog
// trigger, the embedding indexer fed by row-insert notifications, and the
// summary pipeline that compresses old turns.
//
// Rows are persisted by the store package; this package owns the domain
// types and the read paths.
package memory

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ItemType is the kind of a durable memory item.
type ItemType string

const (
	ItemFact       ItemType = "fact"
	ItemGoal       ItemType = "goal"
	ItemPreference ItemType = "preference"
	ItemDate       ItemType = "date"
)

// Valid reports whether t is one of the four known item types.
func (t ItemType) Valid() bool {
	switch t {
	case ItemFact, ItemGoal, ItemPreference, ItemDate:
		return true
	}
	return false
}

// Kind selects which table a retrieval runs against.
type Kind string

const (
	KindMessage Kind = "message"
	KindSummary Kind = "summary"
	KindMemory  Kind = "memory"
)

// Table returns the SQL table backing the kind.
func (k Kind) Table() (string, error) {
	switch k {
	case KindMessage:
		return TableMessages, nil
	case KindSummary:
		return TableSummaries, nil
	case KindMemory:
		return TableMemory, nil
	}
	return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", k)}
}

// Table names shared with the store migrations and the row-insert trigger.
const (
	TableMessages  = "messages"
	TableMemory    = "memory"
	TableSummaries = "conversation_summaries"
)

// KindForTable is the inverse of Kind.Table.
func KindForTable(table string) (Kind, bool) {
	switch table {
	case TableMessages:
		return KindMessage, true
	case TableSummaries:
		return KindSummary, true
	case TableMemory:
		return KindMemory, true
	}
	return "", false
}

// Thread is the optional sub-topic id stored on every row. The zero value
// means "no thread": the undivided conversation.
type Thread struct {
	ID  int64
	Set bool
}

// NoThread is the undivided conversation.
var NoThread = Thread{}

// InThread returns the numbered thread id.
func InThread(id int64) Thread {
	return Thread{ID: id, Set: true}
}

// Value implements driver.Valuer so a Thread binds as NULL or an integer.
func (t Thread) Value() (driver.Value, error) {
	if !t.Set {
		return nil, nil
	}
	return t.ID, nil
}

// Scan implements sql.Scanner.
func (t *Thread) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = NoThread
	case int64:
		*t = InThread(v)
	default:
		return fmt.Errorf("thread: unsupported scan type %T", src)
	}
	return nil
}

func (t Thread) String() string {
	if !t.Set {
		return "none"
	}
	return fmt.Sprintf("%d", t.ID)
}

// Group names exactly one (conversation, thread) group. An unset Thread is
// its own group and never matches a numbered thread. Used for counting and
// summarisation.
type Group struct {
	ConversationID int64
	Thread         Thread
}

// Filter narrows a retrieval. A nil field places no restriction: a nil
// ThreadID matches every thread of the conversation including rows without
// a thread. A non-nil ThreadID matches only rows stored with that exact id.
type Filter struct {
	ConversationID *int64
	ThreadID       *int64
}

// ForConversation returns a filter restricted to one conversation, any thread.
func ForConversation(conversationID int64) Filter {
	return Filter{ConversationID: &conversationID}
}

// WithThread returns a copy of f restricted to the given thread id.
func (f Filter) WithThread(threadID int64) Filter {
	f.ThreadID = &threadID
	return f
}

// Message is one turn of a conversation.
type Message struct {
	ID             int64
	ConversationID int64
	Thread         Thread
	Role           Role
	Content        string
	Embedding      []float32
	CreatedAt      time.Time
}

// MemoryItem is a confirmed, durable fact/goal/preference/date.
type MemoryItem struct {
	ID             int64
	ConversationID int64
	Thread         Thread
	Type           ItemType
	Content        string
	Embedding      []float32
	CreatedAt      time.Time
}

// Summary compresses the messages of one group between From and To.
type Summary struct {
	ID             int64
	ConversationID int64
	Thread         Thread
	Summary        string
	From           time.Time
	To             time.Time
	MessageCount   int
	Embedding      []float32
	CreatedAt      time.Time
}

// Match is one retrieval hit.
type Match struct {
	Kind           Kind
	ID             int64
	ConversationID int64
	Thread         Thread
	Content        string
	Similarity     float64
	CreatedAt      time.Time
}
