package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

type failingSummariser struct{}

func (failingSummariser) Summarise(context.Context, []memory.Message) (string, error) {
	return "", errors.New("model offline")
}

func TestSummaryRunner_WritesWhenThresholdReached(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 4 {
		role := memory.RoleUser
		if i%2 == 1 {
			role = memory.RoleAssistant
		}
		insertMessage(t, s, memory.Message{ConversationID: 1, Role: role, Content: "turn", CreatedAt: at(i)})
	}
	// Below threshold: only two messages in the thread.
	for i := range 2 {
		insertMessage(t, s, memory.Message{ConversationID: 1, Thread: memory.InThread(3), CreatedAt: at(i)})
	}

	tr := memory.NewTrigger(s.DB())
	runner := memory.NewSummaryRunner(tr, s, s, memory.NoopSummariser{}, 3, 0, nil)

	written, err := runner.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if written != 1 {
		t.Fatalf("written: got %d, want 1", written)
	}

	sums, err := s.ListSummaries(ctx, memory.Group{ConversationID: 1})
	if err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	if len(sums) != 1 {
		t.Fatalf("summaries: got %d, want 1", len(sums))
	}
	sum := sums[0]
	if !sum.From.Equal(at(0)) || !sum.To.Equal(at(3)) {
		t.Errorf("interval: got [%v, %v], want [%v, %v]", sum.From, sum.To, at(0), at(3))
	}
	if sum.MessageCount != 4 {
		t.Errorf("message count: got %d, want 4", sum.MessageCount)
	}
	if !strings.Contains(sum.Summary, "assistant: turn") {
		t.Errorf("summary text: %q", sum.Summary)
	}

	n, err := tr.UnsummarizedCount(ctx, memory.Group{ConversationID: 1})
	if err != nil {
		t.Fatalf("UnsummarizedCount: %v", err)
	}
	if n != 0 {
		t.Errorf("backlog after summary: got %d, want 0", n)
	}

	// Nothing new: second sweep writes nothing.
	written, err = runner.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if written != 0 {
		t.Errorf("second sweep wrote %d", written)
	}
}

func TestSummaryRunner_ProviderFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := range 3 {
		insertMessage(t, s, memory.Message{ConversationID: 1, CreatedAt: at(i)})
	}

	runner := memory.NewSummaryRunner(memory.NewTrigger(s.DB()), s, s, failingSummariser{}, 1, 0, nil)
	ok, err := runner.SummariseGroup(ctx, memory.Group{ConversationID: 1})
	if ok || !isProvider(err) {
		t.Fatalf("got (%v, %v), want ProviderError", ok, err)
	}

	// The sweep logs the failure and carries on.
	written, err := runner.RunOnce(ctx)
	if err != nil || written != 0 {
		t.Errorf("RunOnce: got (%d, %v)", written, err)
	}
}

func TestSummaryRunner_StopIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	runner := memory.NewSummaryRunner(memory.NewTrigger(s.DB()), s, s, memory.NoopSummariser{}, 1, 0, nil)

	done := make(chan struct{})
	go func() {
		runner.Run(context.Background())
		close(done)
	}()

	// Run installs its stop channel asynchronously; keep stopping until it exits.
	for {
		runner.Stop()
		select {
		case <-done:
			runner.Stop()
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNoopSummariser(t *testing.T) {
	msgs := []memory.Message{
		{Role: memory.RoleUser, Content: "one"},
		{Role: memory.RoleAssistant, Content: "two"},
		{Role: memory.RoleUser, Content: "three"},
		{Role: memory.RoleAssistant, Content: "four"},
	}
	got, err := memory.NoopSummariser{}.Summarise(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	want := "assistant: two\nuser: three\nassistant: four"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got, _ := (memory.NoopSummariser{}).Summarise(context.Background(), nil); got != "" {
		t.Errorf("empty input: got %q", got)
	}
}
