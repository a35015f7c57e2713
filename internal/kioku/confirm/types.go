// Package confirm gates durable memory writes behind an explicit user
// decision.
//
// Candidate memories extracted from a conversation are held as a Pending
// entry, one per conversation, and presented as a prompt with two controls.
// The user's choice arrives as an opaque token ("memconf:save:<id>" or
// "memconf:skip:<id>") that either commits every candidate as a memory item
// or discards them. A newer set of candidates for the same conversation
// replaces the older one outright.
package confirm

import (
	"strings"
	"time"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// Candidates are unconfirmed memories grouped by category. Order within a
// category is preserved.
type Candidates struct {
	Facts       []string `json:"facts,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
	Goals       []string `json:"goals,omitempty"`
	Dates       []string `json:"dates,omitempty"`
}

// category pairs a candidate list with the item type it is stored as.
type category struct {
	title string
	typ   memory.ItemType
	items []string
}

// categories returns the four categories in prompt order: fact, preference,
// goal, date.
func (c Candidates) categories() []category {
	return []category{
		{"Facts", memory.ItemFact, c.Facts},
		{"Preferences", memory.ItemPreference, c.Preferences},
		{"Goals", memory.ItemGoal, c.Goals},
		{"Dates", memory.ItemDate, c.Dates},
	}
}

// Empty reports whether no category holds a non-blank item.
func (c Candidates) Empty() bool {
	return c.Count() == 0
}

// Count returns the number of non-blank items across all categories.
func (c Candidates) Count() int {
	n := 0
	for _, cat := range c.categories() {
		for _, s := range cat.items {
			if strings.TrimSpace(s) != "" {
				n++
			}
		}
	}
	return n
}

// Items flattens the candidates into memory items for one conversation
// and thread, category by category.
func (c Candidates) Items(conversationID int64, thread memory.Thread) []memory.MemoryItem {
	var out []memory.MemoryItem
	for _, cat := range c.categories() {
		for _, s := range cat.items {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			out = append(out, memory.MemoryItem{
				ConversationID: conversationID,
				Thread:         thread,
				Type:           cat.typ,
				Content:        s,
			})
		}
	}
	return out
}

// Pending is the one outstanding confirmation of a conversation.
type Pending struct {
	Candidates Candidates

	// Thread is where the candidates came from; committed items carry it.
	Thread memory.Thread

	// CreatedAt is stamped by the PendingStore on Set.
	CreatedAt time.Time
}

// Outcome is the result of handling a confirmation token.
type Outcome string

const (
	OutcomeSaved   Outcome = "saved"
	OutcomeSkipped Outcome = "skipped"
	OutcomeUnknown Outcome = "unknown"
)

// Action is the user's choice encoded in a token.
type Action string

const (
	ActionSave Action = "save"
	ActionSkip Action = "skip"
)
