package store

import (
	"context"
	"fmt"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// RowsMissingEmbedding lists up to limit rows of table whose embedding is
// NULL and whose id is greater than afterID, in id order.
func (s *Store) RowsMissingEmbedding(ctx context.Context, table string, afterID int64, limit int) ([]memory.RowInserted, error) {
	if _, ok := memory.KindForTable(table); !ok {
		return nil, &memory.ValidationError{Field: "table", Reason: fmt.Sprintf("unknown table %q", table)}
	}
	if limit <= 0 {
		limit = 100
	}

	col := "content"
	if table == memory.TableSummaries {
		col = "summary"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, %s FROM %s
		WHERE embedding IS NULL AND id > ?
		ORDER BY id ASC
		LIMIT ?`, col, table),
		afterID, limit,
	)
	if err != nil {
		return nil, &memory.PersistenceError{Op: "list missing embeddings " + table, Err: err}
	}
	defer rows.Close()

	var out []memory.RowInserted
	for rows.Next() {
		ev := memory.RowInserted{Table: table}
		if err := rows.Scan(&ev.RecordID, &ev.Content); err != nil {
			return nil, &memory.PersistenceError{Op: "scan missing embedding " + table, Err: err}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &memory.PersistenceError{Op: "iterate missing embeddings " + table, Err: err}
	}
	return out, nil
}

// Groups returns every (conversation, thread) group that has messages,
// ordered by conversation then thread with the unthreaded group first.
func (s *Store) Groups(ctx context.Context) ([]memory.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT conversation_id, thread_id FROM messages
		ORDER BY conversation_id ASC, thread_id ASC`)
	if err != nil {
		return nil, &memory.PersistenceError{Op: "list groups", Err: err}
	}
	defer rows.Close()

	var out []memory.Group
	for rows.Next() {
		var g memory.Group
		if err := rows.Scan(&g.ConversationID, &g.Thread); err != nil {
			return nil, &memory.PersistenceError{Op: "scan group", Err: err}
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, &memory.PersistenceError{Op: "iterate groups", Err: err}
	}
	return out, nil
}

// TableStats counts the rows of one table.
type TableStats struct {
	Rows     int `json:"rows"`
	Embedded int `json:"embedded"`
}

// Stats summarises the memory tables for the status endpoint.
type Stats struct {
	Messages  TableStats `json:"messages"`
	Memory    TableStats `json:"memory"`
	Summaries TableStats `json:"summaries"`
}

// Stats counts rows and embedded rows per table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	targets := []struct {
		table string
		dst   *TableStats
	}{
		{memory.TableMessages, &st.Messages},
		{memory.TableMemory, &st.Memory},
		{memory.TableSummaries, &st.Summaries},
	}
	for _, t := range targets {
		err := s.db.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT COUNT(*), COUNT(embedding) FROM %s", t.table),
		).Scan(&t.dst.Rows, &t.dst.Embedded)
		if err != nil {
			return Stats{}, &memory.PersistenceError{Op: "count " + t.table, Err: err}
		}
	}
	return st, nil
}

// ListMemoryItems returns the memory items of a conversation, oldest first.
func (s *Store) ListMemoryItems(ctx context.Context, conversationID int64) ([]memory.MemoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, thread_id, type, content, embedding, created_at
		FROM memory
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, &memory.PersistenceError{Op: "list memory items", Err: err}
	}
	defer rows.Close()

	var out []memory.MemoryItem
	for rows.Next() {
		var (
			it        memory.MemoryItem
			typ       string
			emb       *string
			createdAt int64
		)
		if err := rows.Scan(&it.ID, &it.ConversationID, &it.Thread, &typ, &it.Content, &emb, &createdAt); err != nil {
			return nil, &memory.PersistenceError{Op: "scan memory item", Err: err}
		}
		it.Type = memory.ItemType(typ)
		it.CreatedAt = memory.TimeFromColumn(createdAt)
		if emb != nil {
			if it.Embedding, err = memory.DecodeEmbedding(*emb); err != nil {
				return nil, &memory.PersistenceError{Op: "decode memory embedding", Err: err}
			}
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, &memory.PersistenceError{Op: "iterate memory items", Err: err}
	}
	return out, nil
}

// ListSummaries returns the summaries of exactly group g, oldest first.
func (s *Store) ListSummaries(ctx context.Context, g memory.Group) ([]memory.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, thread_id, summary, from_ts, to_ts, message_count, created_at
		FROM conversation_summaries
		WHERE conversation_id = ? AND thread_id IS ?
		ORDER BY to_ts ASC, id ASC`,
		g.ConversationID, g.Thread,
	)
	if err != nil {
		return nil, &memory.PersistenceError{Op: "list summaries", Err: err}
	}
	defer rows.Close()

	var out []memory.Summary
	for rows.Next() {
		var (
			sum                 memory.Summary
			from, to, createdAt int64
		)
		if err := rows.Scan(&sum.ID, &sum.ConversationID, &sum.Thread, &sum.Summary, &from, &to, &sum.MessageCount, &createdAt); err != nil {
			return nil, &memory.PersistenceError{Op: "scan summary", Err: err}
		}
		sum.From = memory.TimeFromColumn(from)
		sum.To = memory.TimeFromColumn(to)
		sum.CreatedAt = memory.TimeFromColumn(createdAt)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, &memory.PersistenceError{Op: "iterate summaries", Err: err}
	}
	return out, nil
}
