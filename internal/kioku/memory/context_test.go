package memory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

func TestContextAssembler_Assemble(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vec := []float32{1, 0}

	insertMessage(t, s, memory.Message{ConversationID: 1, Content: "we talked about tea", Embedding: vec})
	insertMessage(t, s, memory.Message{ConversationID: 1, Thread: memory.InThread(2), Content: "threaded tea", Embedding: vec})
	insertMessage(t, s, memory.Message{ConversationID: 2, Content: "other room", Embedding: vec})
	if _, err := s.InsertMemoryItems(ctx, []memory.MemoryItem{
		{ConversationID: 1, Type: memory.ItemPreference, Content: "prefers green tea", Embedding: vec},
	}); err != nil {
		t.Fatalf("InsertMemoryItems: %v", err)
	}

	a := &memory.ContextAssembler{
		Retriever: memory.NewRetriever(s.DB(), nil),
		Embedder:  &fakeEmbedder{vec: vec},
	}
	rc, err := a.Assemble(ctx, 1, "tea?")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(rc.Memories) != 1 {
		t.Errorf("memories: got %d, want 1", len(rc.Memories))
	}
	if len(rc.Messages) != 2 {
		t.Errorf("messages: got %d, want 2 (all threads of conversation 1)", len(rc.Messages))
	}
	if len(rc.Summaries) != 0 {
		t.Errorf("summaries: got %d, want 0", len(rc.Summaries))
	}

	out := a.Render(rc)
	for _, want := range []string{"prefers green tea", "we talked about tea", "threaded tea"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "other room") {
		t.Errorf("render leaked another conversation:\n%s", out)
	}
	if strings.Index(out, "prefers green tea") > strings.Index(out, "we talked about tea") {
		t.Errorf("memory items should come before messages:\n%s", out)
	}
}

func TestContextAssembler_NoopEmbedder(t *testing.T) {
	s := newTestStore(t)
	a := &memory.ContextAssembler{
		Retriever: memory.NewRetriever(s.DB(), nil),
		Embedder:  memory.NoopEmbedder{},
	}
	rc, err := a.Assemble(context.Background(), 1, "anything")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !rc.Empty() {
		t.Errorf("expected empty recall, got %+v", rc)
	}
	if out := a.Render(rc); out != "" {
		t.Errorf("render: got %q, want empty", out)
	}
}

func TestContextAssembler_RenderBudget(t *testing.T) {
	a := &memory.ContextAssembler{MaxTokens: 12}
	rc := memory.Recall{Memories: []memory.Match{
		{Content: "short"},
		{Content: strings.Repeat("long ", 40)},
	}}
	out := a.Render(rc)
	if !strings.Contains(out, "short") {
		t.Errorf("first item should fit:\n%s", out)
	}
	if strings.Contains(out, "long") {
		t.Errorf("second item should be dropped:\n%s", out)
	}
}
