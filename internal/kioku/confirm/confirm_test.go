package confirm_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/kioku/internal/kioku/confirm"
	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// recordingWriter captures InsertMemoryItems calls.
type recordingWriter struct {
	mu    sync.Mutex
	calls [][]memory.MemoryItem
	err   error
}

func (w *recordingWriter) InsertMemoryItems(_ context.Context, items []memory.MemoryItem) ([]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, items)
	if w.err != nil {
		return nil, w.err
	}
	ids := make([]int64, len(items))
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids, nil
}

func (w *recordingWriter) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func newWorkflow(t *testing.T) (*confirm.Workflow, *confirm.MemoryPendingStore, *recordingWriter) {
	t.Helper()
	pending := confirm.NewMemoryPendingStore(0)
	writer := &recordingWriter{}
	return confirm.NewWorkflow(pending, writer, nil), pending, writer
}

// --- PendingStore ---

func TestPendingStore_SetHasClear(t *testing.T) {
	s := confirm.NewMemoryPendingStore(0)

	if s.Has(1) {
		t.Fatal("expected no entry before Set")
	}
	s.Set(1, confirm.Pending{Candidates: confirm.Candidates{Facts: []string{"X"}}})
	if !s.Has(1) {
		t.Fatal("expected entry after Set")
	}
	if s.Has(2) {
		t.Error("entry leaked to another conversation")
	}

	s.Clear(1)
	if s.Has(1) {
		t.Fatal("expected no entry after Clear")
	}
	s.Clear(1) // no-op when absent

	s.Set(1, confirm.Pending{})
	if !s.Has(1) {
		t.Error("Set after Clear should create a new entry")
	}
}

func TestPendingStore_SetReplacesWithoutMerge(t *testing.T) {
	s := confirm.NewMemoryPendingStore(0)

	s.Set(7, confirm.Pending{Candidates: confirm.Candidates{Facts: []string{"A"}, Goals: []string{"G"}}})
	s.Set(7, confirm.Pending{Candidates: confirm.Candidates{Facts: []string{"B"}}})

	got, ok := s.Get(7)
	if !ok {
		t.Fatal("expected entry")
	}
	if len(got.Candidates.Facts) != 1 || got.Candidates.Facts[0] != "B" {
		t.Errorf("facts: got %v, want [B]", got.Candidates.Facts)
	}
	if len(got.Candidates.Goals) != 0 {
		t.Errorf("goals: got %v, want none (no merge)", got.Candidates.Goals)
	}
	if s.Len() != 1 {
		t.Errorf("Len: got %d, want 1", s.Len())
	}
}

func TestPendingStore_TakeIsExclusive(t *testing.T) {
	s := confirm.NewMemoryPendingStore(0)
	s.Set(3, confirm.Pending{Candidates: confirm.Candidates{Facts: []string{"X"}}})

	const racers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Take(3); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Take winners: got %d, want 1", wins)
	}
	if s.Has(3) {
		t.Error("expected entry gone after Take")
	}
}

func TestPendingStore_TTL(t *testing.T) {
	s := confirm.NewMemoryPendingStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	s.Set(1, confirm.Pending{})
	s.Set(2, confirm.Pending{})

	now = now.Add(30 * time.Second)
	if !s.Has(1) {
		t.Fatal("entry expired too early")
	}

	s.Set(2, confirm.Pending{}) // refreshed by overwrite
	now = now.Add(45 * time.Second)

	if s.Has(1) {
		t.Error("entry 1 should have expired")
	}
	if !s.Has(2) {
		t.Error("entry 2 was refreshed and should be live")
	}
	if n := s.Len(); n != 1 {
		t.Errorf("Len: got %d, want 1", n)
	}
}

// --- Prompt and keyboard ---

func TestBuildPrompt_Empty(t *testing.T) {
	cases := map[string]confirm.Candidates{
		"zero value":       {},
		"empty lists":      {Facts: []string{}, Goals: []string{}, Preferences: []string{}, Dates: []string{}},
		"blank items only": {Facts: []string{"", "  "}},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			if got := confirm.BuildPrompt(c); got != "" {
				t.Errorf("got %q, want empty string", got)
			}
		})
	}
}

func TestBuildPrompt_SingleFact(t *testing.T) {
	got := confirm.BuildPrompt(confirm.Candidates{Facts: []string{"X"}})

	for _, want := range []string{"• X", "worth remembering", "Save these?"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Goals") || strings.Contains(got, "Dates") {
		t.Errorf("prompt should skip empty categories:\n%s", got)
	}
	if !strings.HasSuffix(got, "Save these?") {
		t.Errorf("prompt should end with the closing question:\n%s", got)
	}
}

func TestBuildPrompt_CategoryOrder(t *testing.T) {
	got := confirm.BuildPrompt(confirm.Candidates{
		Dates:       []string{"d"},
		Goals:       []string{"g"},
		Preferences: []string{"p"},
		Facts:       []string{"f"},
	})

	order := []string{"• f", "• p", "• g", "• d"}
	last := -1
	for _, item := range order {
		i := strings.Index(got, item)
		if i < 0 {
			t.Fatalf("prompt missing %q:\n%s", item, got)
		}
		if i < last {
			t.Errorf("%q out of order:\n%s", item, got)
		}
		last = i
	}
}

func TestBuildKeyboard(t *testing.T) {
	kb := confirm.BuildKeyboard(42)
	if len(kb) != 2 {
		t.Fatalf("buttons: got %d, want 2", len(kb))
	}
	if kb[0].Token != "memconf:save:42" {
		t.Errorf("save token: got %q", kb[0].Token)
	}
	if kb[1].Token != "memconf:skip:42" {
		t.Errorf("skip token: got %q", kb[1].Token)
	}
}

func TestParseToken(t *testing.T) {
	tests := []struct {
		token      string
		wantAction confirm.Action
		wantID     int64
		wantErr    bool
		notConfirm bool
	}{
		{token: "memconf:save:5", wantAction: confirm.ActionSave, wantID: 5},
		{token: "memconf:skip:-100123", wantAction: confirm.ActionSkip, wantID: -100123},
		{token: "unrelated:token", wantErr: true, notConfirm: true},
		{token: "", wantErr: true, notConfirm: true},
		{token: "memconf:maybe:5", wantErr: true},
		{token: "memconf:save", wantErr: true},
		{token: "memconf:save:abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			action, id, err := confirm.ParseToken(tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got action=%q id=%d", action, id)
				}
				if got := errors.Is(err, confirm.ErrNotConfirmation); got != tt.notConfirm {
					t.Errorf("ErrNotConfirmation: got %v, want %v (err=%v)", got, tt.notConfirm, err)
				}
				if !tt.notConfirm {
					var ve *memory.ValidationError
					if !errors.As(err, &ve) {
						t.Errorf("expected ValidationError, got %T", err)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if action != tt.wantAction || id != tt.wantID {
				t.Errorf("got (%q, %d), want (%q, %d)", action, id, tt.wantAction, tt.wantID)
			}
		})
	}
}

// --- Workflow ---

func TestHandleCallback_UnknownCases(t *testing.T) {
	w, pending, writer := newWorkflow(t)
	ctx := context.Background()

	got, err := w.HandleCallback(ctx, "unrelated:token", 1)
	if err != nil || got != confirm.OutcomeUnknown {
		t.Errorf("foreign token: got (%q, %v), want unknown", got, err)
	}

	got, err = w.HandleCallback(ctx, "memconf:save:1", 1)
	if err != nil || got != confirm.OutcomeUnknown {
		t.Errorf("no pending: got (%q, %v), want unknown", got, err)
	}

	pending.Set(1, confirm.Pending{Candidates: confirm.Candidates{Facts: []string{"X"}}})
	got, err = w.HandleCallback(ctx, "memconf:save:2", 1)
	if err != nil || got != confirm.OutcomeUnknown {
		t.Errorf("mismatched conversation: got (%q, %v), want unknown", got, err)
	}
	if !pending.Has(1) {
		t.Error("mismatched token must not consume the pending entry")
	}

	if writer.callCount() != 0 {
		t.Errorf("writes: got %d, want 0", writer.callCount())
	}
}

func TestHandleCallback_MalformedToken(t *testing.T) {
	w, pending, _ := newWorkflow(t)
	pending.Set(1, confirm.Pending{Candidates: confirm.Candidates{Facts: []string{"X"}}})

	got, err := w.HandleCallback(context.Background(), "memconf:later:1", 1)
	if got != confirm.OutcomeUnknown {
		t.Errorf("outcome: got %q, want unknown", got)
	}
	var ve *memory.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if !pending.Has(1) {
		t.Error("malformed token must not consume the pending entry")
	}
}

func TestHandleCallback_Save(t *testing.T) {
	w, pending, writer := newWorkflow(t)
	ctx := context.Background()

	pending.Set(9, confirm.Pending{
		Thread: memory.InThread(4),
		Candidates: confirm.Candidates{
			Facts:       []string{"likes tea", "has a cat"},
			Preferences: []string{"short answers"},
			Goals:       []string{"run a marathon"},
			Dates:       []string{"birthday is 3 May"},
		},
	})

	got, err := w.HandleCallback(ctx, "memconf:save:9", 9)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if got != confirm.OutcomeSaved {
		t.Fatalf("outcome: got %q, want saved", got)
	}
	if pending.Has(9) {
		t.Error("pending entry should be cleared after save")
	}
	if writer.callCount() != 1 {
		t.Fatalf("insert calls: got %d, want exactly 1 batch", writer.callCount())
	}

	items := writer.calls[0]
	want := []struct {
		typ     memory.ItemType
		content string
	}{
		{memory.ItemFact, "likes tea"},
		{memory.ItemFact, "has a cat"},
		{memory.ItemPreference, "short answers"},
		{memory.ItemGoal, "run a marathon"},
		{memory.ItemDate, "birthday is 3 May"},
	}
	if len(items) != len(want) {
		t.Fatalf("items: got %d, want %d", len(items), len(want))
	}
	for i, exp := range want {
		if items[i].Type != exp.typ || items[i].Content != exp.content {
			t.Errorf("item %d: got (%s, %q), want (%s, %q)", i, items[i].Type, items[i].Content, exp.typ, exp.content)
		}
		if items[i].ConversationID != 9 {
			t.Errorf("item %d conversation: got %d, want 9", i, items[i].ConversationID)
		}
		if items[i].Thread != memory.InThread(4) {
			t.Errorf("item %d thread: got %v, want 4", i, items[i].Thread)
		}
	}

	// A repeated tap finds nothing pending.
	again, err := w.HandleCallback(ctx, "memconf:save:9", 9)
	if err != nil || again != confirm.OutcomeUnknown {
		t.Errorf("second callback: got (%q, %v), want unknown", again, err)
	}
	if writer.callCount() != 1 {
		t.Errorf("second callback wrote again")
	}
}

func TestHandleCallback_SaveSingleFact(t *testing.T) {
	w, pending, writer := newWorkflow(t)
	pending.Set(1, confirm.Pending{Candidates: confirm.Candidates{Facts: []string{"X"}}})

	got, err := w.HandleCallback(context.Background(), "memconf:save:1", 1)
	if err != nil || got != confirm.OutcomeSaved {
		t.Fatalf("got (%q, %v), want saved", got, err)
	}
	if len(writer.calls) != 1 || len(writer.calls[0]) != 1 {
		t.Fatalf("expected one item in one batch, got %v", writer.calls)
	}
	if writer.calls[0][0].Type != memory.ItemFact {
		t.Errorf("type: got %q, want fact", writer.calls[0][0].Type)
	}
	if writer.calls[0][0].Thread.Set {
		t.Error("unthreaded candidates should produce unthreaded items")
	}
}

func TestHandleCallback_Skip(t *testing.T) {
	w, pending, writer := newWorkflow(t)
	pending.Set(1, confirm.Pending{Candidates: confirm.Candidates{Facts: []string{"X"}}})

	got, err := w.HandleCallback(context.Background(), "memconf:skip:1", 1)
	if err != nil || got != confirm.OutcomeSkipped {
		t.Fatalf("got (%q, %v), want skipped", got, err)
	}
	if writer.callCount() != 0 {
		t.Errorf("skip wrote %d batches, want 0", writer.callCount())
	}
	if pending.Has(1) {
		t.Error("pending entry should be cleared after skip")
	}
}

func TestHandleCallback_SaveFailureClearsAndSurfaces(t *testing.T) {
	w, pending, writer := newWorkflow(t)
	writer.err = errors.New("disk full")
	pending.Set(1, confirm.Pending{Candidates: confirm.Candidates{Facts: []string{"X"}}})

	got, err := w.HandleCallback(context.Background(), "memconf:save:1", 1)
	if err == nil {
		t.Fatal("expected error from failed save")
	}
	var pe *memory.PersistenceError
	if !errors.As(err, &pe) {
		t.Errorf("expected PersistenceError, got %T: %v", err, err)
	}
	if got == confirm.OutcomeSaved {
		t.Error("failed save must not report saved")
	}
	if pending.Has(1) {
		t.Error("pending entry should be cleared even when the save fails")
	}
}

func TestPresent(t *testing.T) {
	w, pending, _ := newWorkflow(t)

	if _, ok := w.Present(1, memory.NoThread, confirm.Candidates{}); ok {
		t.Error("empty candidates should not produce a prompt")
	}
	if pending.Has(1) {
		t.Error("empty candidates should not create a pending entry")
	}

	p, ok := w.Present(1, memory.NoThread, confirm.Candidates{Goals: []string{"learn Go"}})
	if !ok {
		t.Fatal("expected a prompt")
	}
	if !strings.Contains(p.Text, "• learn Go") {
		t.Errorf("prompt text: %q", p.Text)
	}
	if len(p.Buttons) != 2 || p.Buttons[0].Token != "memconf:save:1" {
		t.Errorf("buttons: %+v", p.Buttons)
	}

	// Presenting again replaces the previous candidates.
	w.Present(1, memory.InThread(2), confirm.Candidates{Facts: []string{"new"}})
	got, _ := pending.Get(1)
	if len(got.Candidates.Goals) != 0 || len(got.Candidates.Facts) != 1 {
		t.Errorf("expected replacement, got %+v", got.Candidates)
	}
	if got.Thread != memory.InThread(2) {
		t.Errorf("thread: got %v, want 2", got.Thread)
	}

	// Empty candidates leave an existing entry alone.
	w.Present(1, memory.NoThread, confirm.Candidates{})
	if !pending.Has(1) {
		t.Error("empty Present must not clear an existing entry")
	}
}
