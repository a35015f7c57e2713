package memory

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"slices"
)

// DefaultThreshold is the minimum similarity a match must exceed when the
// caller does not choose one.
const DefaultThreshold = 0.7

// DefaultLimit returns the default result count for a kind: 10 messages,
// 5 summaries, 5 memory items.
func DefaultLimit(k Kind) int {
	if k == KindMessage {
		return 10
	}
	return 5
}

// SearchRequest describes one similarity query.
type SearchRequest struct {
	Kind      Kind
	Embedding []float32
	Threshold float64
	Limit     int
	Filter    Filter
}

// NewSearch returns a request for kind with the default threshold and limit
// and no filter.
func NewSearch(kind Kind, embedding []float32) SearchRequest {
	return SearchRequest{
		Kind:      kind,
		Embedding: embedding,
		Threshold: DefaultThreshold,
		Limit:     DefaultLimit(kind),
	}
}

func (r SearchRequest) validate() error {
	if len(r.Embedding) == 0 {
		return &ValidationError{Field: "embedding", Reason: "query embedding is empty"}
	}
	for i, v := range r.Embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return &ValidationError{Field: "embedding", Reason: fmt.Sprintf("component %d is not finite", i)}
		}
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		return &ValidationError{Field: "threshold", Reason: fmt.Sprintf("%v outside [0,1]", r.Threshold)}
	}
	if r.Limit <= 0 {
		return &ValidationError{Field: "limit", Reason: "must be positive"}
	}
	return nil
}

// Retriever runs similarity search over the embedded rows of the messages,
// memory and conversation_summaries tables.
//
// Similarity is computed in Go: modernc.org/sqlite cannot load vector
// extensions, and the per-conversation row counts stay small enough that a
// filtered scan is cheap.
type Retriever struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRetriever creates a Retriever over db. If logger is nil, the default
// slog logger is used.
func NewRetriever(db *sql.DB, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{db: db, logger: logger}
}

// contentColumn is the text column embedded for each table.
func contentColumn(table string) string {
	if table == TableSummaries {
		return "summary"
	}
	return "content"
}

// Search returns the rows of req.Kind whose similarity to req.Embedding is
// strictly greater than req.Threshold, best first, at most req.Limit.
// It never mutates state.
func (r *Retriever) Search(ctx context.Context, req SearchRequest) ([]Match, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	table, err := req.Kind.Table()
	if err != nil {
		return nil, err
	}

	conv := optionalArg(req.Filter.ConversationID)
	thread := optionalArg(req.Filter.ThreadID)

	query := fmt.Sprintf(`
		SELECT id, conversation_id, thread_id, %s, embedding, created_at
		FROM %s
		WHERE embedding IS NOT NULL
		  AND (? IS NULL OR conversation_id = ?)
		  AND (? IS NULL OR thread_id = ?)`,
		contentColumn(table), table)

	rows, err := r.db.QueryContext(ctx, query, conv, conv, thread, thread)
	if err != nil {
		return nil, &PersistenceError{Op: "search " + table, Err: err}
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m         Match
			raw       string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Thread, &m.Content, &raw, &createdAt); err != nil {
			return nil, &PersistenceError{Op: "scan " + table, Err: err}
		}
		vec, err := DecodeEmbedding(raw)
		if err != nil {
			r.logger.Warn("memory search: skip row with malformed embedding",
				"table", table, "id", m.ID, "err", err)
			continue
		}
		m.Similarity = CosineSimilarity(req.Embedding, vec)
		// NaN compares false against everything, so it never passes.
		if !(m.Similarity > req.Threshold) {
			continue
		}
		m.Kind = req.Kind
		m.CreatedAt = TimeFromColumn(createdAt)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "iterate " + table, Err: err}
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(matches) > req.Limit {
		matches = matches[:req.Limit]
	}

	r.logger.Debug("memory search",
		"kind", req.Kind,
		"threshold", req.Threshold,
		"limit", req.Limit,
		"results", len(matches),
	)
	return matches, nil
}

// optionalArg binds a nil pointer as SQL NULL.
func optionalArg(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
