package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/kioku/internal/kioku/app"
	"github.com/bdobrica/kioku/internal/kioku/config"
	"github.com/bdobrica/kioku/internal/kioku/memory"
	"github.com/bdobrica/kioku/internal/kioku/webhook"
)

type fixedEmbedder struct{ vec []float32 }

func (e fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return e.vec, nil }

type echoSummariser struct{}

func (echoSummariser) Summarise(_ context.Context, msgs []memory.Message) (string, error) {
	return fmt.Sprintf("%d turns", len(msgs)), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *app.App {
	t.Helper()
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "kioku.db")
	cfg.HTTPAddr = "127.0.0.1:0"
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := app.New(cfg, app.Options{
		Logger:     testLogger(),
		Embedder:   fixedEmbedder{vec: []float32{1, 0, 0}},
		Summariser: echoSummariser{},
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(a.Stop)
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func insertMessage(t *testing.T, a *app.App, content string) int64 {
	t.Helper()
	id, err := a.Store().InsertMessage(context.Background(), memory.Message{
		ConversationID: 1,
		Role:           memory.RoleUser,
		Content:        content,
	})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	return id
}

func TestHealth(t *testing.T) {
	a := newTestApp(t, nil)

	rec := get(t, a.Handler(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body: got %v", body)
	}
}

func TestStatus_ReportsTableCounts(t *testing.T) {
	a := newTestApp(t, nil)
	insertMessage(t, a, "hello")
	insertMessage(t, a, "again")

	rec := get(t, a.Handler(), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Build  map[string]string `json:"build"`
		Memory *app.Status       `json:"memory"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Build["version"] == "" {
		t.Errorf("header fields: %+v", body)
	}
	if body.Memory == nil {
		t.Fatal("memory section missing")
	}
	if body.Memory.Tables.Messages.Rows != 2 || body.Memory.Tables.Messages.Embedded != 0 {
		t.Errorf("messages: got %+v", body.Memory.Tables.Messages)
	}
	// The queue is not running yet, so both notifications are still buffered.
	if body.Memory.IndexQueuePending != 2 {
		t.Errorf("queue pending: got %d, want 2", body.Memory.IndexQueuePending)
	}
}

type brokenStatus struct{}

func (brokenStatus) Status(context.Context) (app.Status, error) {
	return app.Status{}, errors.New("db gone")
}

func TestStatus_Degraded(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", brokenStatus{}, testLogger())

	rec := get(t, hs, "/status")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"degraded"`) {
		t.Errorf("body: %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "db gone") {
		t.Error("internal error leaked into the response")
	}
}

func TestHookIsMountedOnServer(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Hook.BearerToken = "s3cret" })
	id := insertMessage(t, a, "I like green tea")

	body := fmt.Sprintf(`{"table":"messages","record_id":%d,"content":"I like green tea"}`, id)

	req := httptest.NewRequest(http.MethodPost, webhook.Path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without token: got %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, webhook.Path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token: got %d: %s", rec.Code, rec.Body.String())
	}

	st, err := a.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Tables.Messages.Embedded != 1 {
		t.Errorf("embedded: got %d, want 1", st.Tables.Messages.Embedded)
	}
}

func TestBackfillAndSearch(t *testing.T) {
	a := newTestApp(t, nil)
	insertMessage(t, a, "I like green tea")
	insertMessage(t, a, "Kyoto in spring")

	stats, err := a.Backfill(context.Background())
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if stats.Embedded != 2 || stats.Failed != 0 {
		t.Errorf("stats: %+v", stats)
	}

	req := memory.NewSearch(memory.KindMessage, nil)
	req.Filter = memory.ForConversation(1)
	matches, err := a.Search(context.Background(), "tea", req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("matches: got %d, want 2", len(matches))
	}

	req.Filter = memory.ForConversation(2)
	matches, err = a.Search(context.Background(), "tea", req)
	if err != nil {
		t.Fatalf("Search other conversation: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("other conversation: got %d matches", len(matches))
	}
}

func TestSearch_NoEmbeddingProvider(t *testing.T) {
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "kioku.db")
	a, err := app.New(cfg, app.Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Stop()

	_, err = a.Search(context.Background(), "tea", memory.NewSearch(memory.KindMemory, nil))
	var verr *memory.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

func TestRun_IndexesInsertedRows(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Summary.Interval = time.Hour
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	insertMessage(t, a, "hello")

	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := a.Status(context.Background())
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.Tables.Messages.Embedded == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("row not embedded in time: %+v", st.Tables.Messages)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSummariseOnce(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Summary.Threshold = 3 })
	for i := range 3 {
		insertMessage(t, a, fmt.Sprintf("turn %d", i))
	}

	n, err := a.Summaries().RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("summaries: got %d, want 1", n)
	}

	backlog, err := a.Trigger().UnsummarizedCount(context.Background(), memory.Group{ConversationID: 1})
	if err != nil {
		t.Fatalf("UnsummarizedCount: %v", err)
	}
	if backlog != 0 {
		t.Errorf("backlog after summary: got %d", backlog)
	}
}

func TestNew_BadProvider(t *testing.T) {
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "kioku.db")
	cfg.Embedding.Provider = "carrier-pigeon"
	if _, err := app.New(cfg, app.Options{Logger: testLogger()}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	a := newTestApp(t, nil)
	a.Stop()
	a.Stop()
}

func TestSummariseOnce_IndexesNewSummaries(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Summary.Threshold = 2 })
	insertMessage(t, a, "turn one")
	insertMessage(t, a, "turn two")

	n, err := a.SummariseOnce(context.Background())
	if err != nil {
		t.Fatalf("SummariseOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("summaries: got %d, want 1", n)
	}

	st, err := a.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Tables.Summaries.Rows != 1 || st.Tables.Summaries.Embedded != 1 {
		t.Errorf("summaries table: got %+v, want 1 row embedded", st.Tables.Summaries)
	}
	if st.IndexQueuePending != 0 {
		t.Errorf("queue pending: got %d, want 0", st.IndexQueuePending)
	}
}

func TestOverview(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	s := a.Store()

	conv, err := s.ConversationForRoom(ctx, "!room:example.org")
	if err != nil {
		t.Fatalf("ConversationForRoom: %v", err)
	}
	thread, err := s.ThreadForRoot(ctx, conv, "$root")
	if err != nil {
		t.Fatalf("ThreadForRoot: %v", err)
	}
	if _, err := s.InsertMemoryItems(ctx, []memory.MemoryItem{
		{ConversationID: conv, Type: memory.ItemFact, Content: "likes green tea"},
		{ConversationID: conv, Thread: thread, Type: memory.ItemGoal, Content: "visit Kyoto"},
	}); err != nil {
		t.Fatalf("InsertMemoryItems: %v", err)
	}
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if _, err := s.InsertSummary(ctx, memory.Summary{
		ConversationID: conv, Thread: thread, Summary: "tea talk", From: base, To: base.Add(time.Minute), MessageCount: 2,
	}); err != nil {
		t.Fatalf("InsertSummary: %v", err)
	}

	ov, err := a.Overview(ctx, memory.Group{ConversationID: conv, Thread: thread})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if ov.RoomID != "!room:example.org" || ov.ThreadRoot != "$root" {
		t.Errorf("identifiers: room %q root %q", ov.RoomID, ov.ThreadRoot)
	}
	if len(ov.Items) != 2 {
		t.Errorf("items: got %d, want 2", len(ov.Items))
	}
	if len(ov.Summaries) != 1 || ov.Summaries[0].Summary != "tea talk" {
		t.Errorf("summaries: got %+v", ov.Summaries)
	}

	// The unthreaded group has no summary of its own.
	ov, err = a.Overview(ctx, memory.Group{ConversationID: conv})
	if err != nil {
		t.Fatalf("Overview unthreaded: %v", err)
	}
	if len(ov.Summaries) != 0 || ov.ThreadRoot != "" {
		t.Errorf("unthreaded: got %+v", ov)
	}

	// A conversation created outside Matrix has no room and is not an error.
	ov, err = a.Overview(ctx, memory.Group{ConversationID: 404})
	if err != nil {
		t.Fatalf("Overview unknown: %v", err)
	}
	if ov.RoomID != "" || len(ov.Items) != 0 {
		t.Errorf("unknown conversation: got %+v", ov)
	}
}
