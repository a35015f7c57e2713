package memory_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/kioku/internal/kioku/memory"
	"github.com/bdobrica/kioku/internal/kioku/store"
)

// newTestStore opens a temporary SQLite database with migrations applied.
// The DB is closed when the test ends.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "kioku-memory-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// at returns baseTime plus n minutes.
func at(n int) time.Time {
	return baseTime.Add(time.Duration(n) * time.Minute)
}

func insertMessage(t *testing.T, s *store.Store, m memory.Message) int64 {
	t.Helper()
	if m.Role == "" {
		m.Role = memory.RoleUser
	}
	if m.Content == "" {
		m.Content = "hello"
	}
	id, err := s.InsertMessage(context.Background(), m)
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	return id
}

func ptr[T any](v T) *T { return &v }

// fakeEmbedder returns a fixed vector and counts calls.
type fakeEmbedder struct {
	mu    sync.Mutex
	vec   []float32
	err   error
	calls int
}

func (e *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakeWriter records embedding write-backs.
type fakeWriter struct {
	mu     sync.Mutex
	writes []string
	err    error
}

func (w *fakeWriter) SetEmbedding(_ context.Context, table string, id int64, _ []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, table)
	return nil
}

func (w *fakeWriter) writeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}
