package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// InsertMessage appends one conversation turn and returns its id.
func (s *Store) InsertMessage(ctx context.Context, m memory.Message) (int64, error) {
	if m.Role != memory.RoleUser && m.Role != memory.RoleAssistant {
		return 0, &memory.ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", m.Role)}
	}
	if m.Content == "" {
		return 0, &memory.ValidationError{Field: "content", Reason: "empty content"}
	}

	emb, err := memory.EncodeEmbedding(m.Embedding)
	if err != nil {
		return 0, &memory.ValidationError{Field: "embedding", Reason: err.Error()}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, thread_id, role, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.Thread, string(m.Role), m.Content, nullableText(emb), s.stamp(m.CreatedAt),
	)
	if err != nil {
		return 0, &memory.PersistenceError{Op: "insert message", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &memory.PersistenceError{Op: "insert message", Err: err}
	}

	s.notify(memory.RowInserted{
		Table:        memory.TableMessages,
		RecordID:     id,
		Content:      m.Content,
		HasEmbedding: emb != nil,
	})
	return id, nil
}

// InsertMemoryItems appends items in one transaction and returns their ids
// in input order. Either every item is stored or none is.
func (s *Store) InsertMemoryItems(ctx context.Context, items []memory.MemoryItem) ([]int64, error) {
	if len(items) == 0 {
		return nil, nil
	}
	for i, it := range items {
		if !it.Type.Valid() {
			return nil, &memory.ValidationError{Field: fmt.Sprintf("items[%d].type", i), Reason: fmt.Sprintf("unknown type %q", it.Type)}
		}
		if it.Content == "" {
			return nil, &memory.ValidationError{Field: fmt.Sprintf("items[%d].content", i), Reason: "empty content"}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &memory.PersistenceError{Op: "begin memory insert", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory (conversation_id, thread_id, type, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, &memory.PersistenceError{Op: "prepare memory insert", Err: err}
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(items))
	events := make([]memory.RowInserted, 0, len(items))
	for _, it := range items {
		emb, err := memory.EncodeEmbedding(it.Embedding)
		if err != nil {
			return nil, &memory.ValidationError{Field: "embedding", Reason: err.Error()}
		}
		res, err := stmt.ExecContext(ctx,
			it.ConversationID, it.Thread, string(it.Type), it.Content, nullableText(emb), s.stamp(it.CreatedAt))
		if err != nil {
			return nil, &memory.PersistenceError{Op: "insert memory item", Err: err}
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, &memory.PersistenceError{Op: "insert memory item", Err: err}
		}
		ids = append(ids, id)
		events = append(events, memory.RowInserted{
			Table:        memory.TableMemory,
			RecordID:     id,
			Content:      it.Content,
			HasEmbedding: emb != nil,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, &memory.PersistenceError{Op: "commit memory insert", Err: err}
	}

	s.notify(events...)
	return ids, nil
}

// InsertSummary appends a summary for its group. The interval must satisfy
// From <= To and must start strictly after the latest To already stored for
// the same group, so summaries of a group never overlap.
func (s *Store) InsertSummary(ctx context.Context, sum memory.Summary) (int64, error) {
	if sum.Summary == "" {
		return 0, &memory.ValidationError{Field: "summary", Reason: "empty summary"}
	}
	if sum.From.After(sum.To) {
		return 0, &memory.ValidationError{Field: "interval", Reason: "from is after to"}
	}
	if sum.MessageCount < 0 {
		return 0, &memory.ValidationError{Field: "message_count", Reason: "negative"}
	}

	emb, err := memory.EncodeEmbedding(sum.Embedding)
	if err != nil {
		return 0, &memory.ValidationError{Field: "embedding", Reason: err.Error()}
	}

	from := memory.TimeToColumn(sum.From)
	to := memory.TimeToColumn(sum.To)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &memory.PersistenceError{Op: "begin summary insert", Err: err}
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(to_ts) FROM conversation_summaries
		WHERE conversation_id = ? AND thread_id IS ?`,
		sum.ConversationID, sum.Thread,
	).Scan(&latest)
	if err != nil {
		return 0, &memory.PersistenceError{Op: "load latest summary", Err: err}
	}
	if latest.Valid && from <= latest.Int64 {
		return 0, &memory.ValidationError{Field: "interval", Reason: "overlaps an existing summary of the same group"}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_summaries
			(conversation_id, thread_id, summary, from_ts, to_ts, message_count, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ConversationID, sum.Thread, sum.Summary, from, to, sum.MessageCount, nullableText(emb), s.stamp(sum.CreatedAt),
	)
	if err != nil {
		return 0, &memory.PersistenceError{Op: "insert summary", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &memory.PersistenceError{Op: "insert summary", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &memory.PersistenceError{Op: "commit summary insert", Err: err}
	}

	s.notify(memory.RowInserted{
		Table:        memory.TableSummaries,
		RecordID:     id,
		Content:      sum.Summary,
		HasEmbedding: emb != nil,
	})
	return id, nil
}

// SetEmbedding writes vec to the embedding column of (table, id). It is the
// only update the memory tables accept. A missing row yields a
// PersistenceError wrapping memory.ErrRowNotFound.
func (s *Store) SetEmbedding(ctx context.Context, table string, id int64, vec []float32) error {
	if _, ok := memory.KindForTable(table); !ok {
		return &memory.ValidationError{Field: "table", Reason: fmt.Sprintf("unknown table %q", table)}
	}
	if len(vec) == 0 {
		return &memory.ValidationError{Field: "embedding", Reason: "empty vector"}
	}

	emb, err := memory.EncodeEmbedding(vec)
	if err != nil {
		return &memory.ValidationError{Field: "embedding", Reason: err.Error()}
	}

	// table is one of the three known names, checked above.
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET embedding = ? WHERE id = ?", table),
		string(emb), id,
	)
	if err != nil {
		return &memory.PersistenceError{Op: "set embedding " + table, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &memory.PersistenceError{Op: "set embedding " + table, Err: err}
	}
	if n == 0 {
		return &memory.PersistenceError{
			Op:  "set embedding " + table,
			Err: fmt.Errorf("%w: id %d", memory.ErrRowNotFound, id),
		}
	}
	return nil
}

// nullableText binds a nil byte slice as NULL and anything else as TEXT.
func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
