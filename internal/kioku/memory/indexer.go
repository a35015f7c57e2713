package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RowInserted is the notification for one newly inserted row that may need
// an embedding. It is what the database change feed (or the store's own
// insert hook) delivers to the indexer.
type RowInserted struct {
	Table        string
	RecordID     int64
	Content      string
	HasEmbedding bool
}

// EmbeddingWriter writes a computed vector back to one row. Implementations
// must return an error wrapping ErrRowNotFound when no row matches.
type EmbeddingWriter interface {
	SetEmbedding(ctx context.Context, table string, id int64, vec []float32) error
}

// IndexOutcome reports what OnRowInserted did with a notification.
type IndexOutcome string

const (
	// IndexEmbedded means a vector was computed and written.
	IndexEmbedded IndexOutcome = "embedded"

	// IndexSkipped means the row already had an embedding, or the provider
	// is a stub that produced no vector; nothing was written.
	IndexSkipped IndexOutcome = "skipped"
)

// Indexer embeds newly inserted rows. It performs no retries: a failure is
// returned to whoever delivered the notification so that mechanism can
// decide whether to redeliver.
type Indexer struct {
	embedder Embedder
	writer   EmbeddingWriter
	logger   *slog.Logger
}

// NewIndexer creates an Indexer. If logger is nil, the default slog logger
// is used.
func NewIndexer(embedder Embedder, writer EmbeddingWriter, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{embedder: embedder, writer: writer, logger: logger}
}

// OnRowInserted handles one row notification.
//
// A row that already carries an embedding returns IndexSkipped before any
// provider call or write. Otherwise the content is embedded and the vector
// written back to (ev.Table, ev.RecordID). The row either receives the whole
// vector or is left untouched.
func (ix *Indexer) OnRowInserted(ctx context.Context, ev RowInserted) (IndexOutcome, error) {
	if ev.HasEmbedding {
		return IndexSkipped, nil
	}

	if _, ok := KindForTable(ev.Table); !ok {
		return "", &ValidationError{Field: "table", Reason: fmt.Sprintf("unknown table %q", ev.Table)}
	}
	if ev.RecordID <= 0 {
		return "", &ValidationError{Field: "record_id", Reason: "must be positive"}
	}
	if ev.Content == "" {
		return "", &ValidationError{Field: "content", Reason: "empty content"}
	}

	start := time.Now()
	vec, err := ix.embedder.Embed(ctx, ev.Content)
	if err != nil {
		return "", &ProviderError{Op: "embed " + ev.Table, Err: err}
	}
	if vec == nil {
		ix.logger.Debug("indexer: embedder produced no vector",
			"table", ev.Table, "id", ev.RecordID)
		return IndexSkipped, nil
	}
	if len(vec) == 0 {
		return "", &ProviderError{Op: "embed " + ev.Table, Err: errors.New("empty vector")}
	}

	if err := ix.writer.SetEmbedding(ctx, ev.Table, ev.RecordID, vec); err != nil {
		return "", Persistence("write embedding "+ev.Table, err)
	}

	ix.logger.Debug("indexer: row embedded",
		"table", ev.Table,
		"id", ev.RecordID,
		"content_len", len(ev.Content),
		"dims", len(vec),
		"elapsed", time.Since(start).String(),
	)
	return IndexEmbedded, nil
}
