package memory

import (
	"context"
	"database/sql"
	"errors"
	"math"
)

// Trigger measures how many messages of a group are not yet covered by a
// summary. It has no side effects; acting on the count belongs to the
// caller (see SummaryRunner).
type Trigger struct {
	db *sql.DB
}

// NewTrigger creates a Trigger over db.
func NewTrigger(db *sql.DB) *Trigger {
	return &Trigger{db: db}
}

// lastCovered returns the to_timestamp of the latest summary interval of g,
// and false when g has never been summarised. Intervals of a group never
// overlap, so the highest to_ts is the latest regardless of created_at.
// thread_id IS ? makes an unset thread equal only to other unset threads.
func (t *Trigger) lastCovered(ctx context.Context, g Group) (int64, bool, error) {
	var to int64
	err := t.db.QueryRowContext(ctx, `
		SELECT to_ts FROM conversation_summaries
		WHERE conversation_id = ? AND thread_id IS ?
		ORDER BY to_ts DESC, id DESC
		LIMIT 1`,
		g.ConversationID, g.Thread,
	).Scan(&to)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &PersistenceError{Op: "load last summary", Err: err}
	}
	return to, true, nil
}

// UnsummarizedCount returns the number of messages in g created strictly
// after the most recent summary's to_timestamp, or all of g's messages when
// no summary exists.
func (t *Trigger) UnsummarizedCount(ctx context.Context, g Group) (int, error) {
	to, ok, err := t.lastCovered(ctx, g)
	if err != nil {
		return 0, err
	}

	var n int
	if ok {
		err = t.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM messages
			WHERE conversation_id = ? AND thread_id IS ? AND created_at > ?`,
			g.ConversationID, g.Thread, to,
		).Scan(&n)
	} else {
		err = t.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM messages
			WHERE conversation_id = ? AND thread_id IS ?`,
			g.ConversationID, g.Thread,
		).Scan(&n)
	}
	if err != nil {
		return 0, &PersistenceError{Op: "count unsummarized", Err: err}
	}
	return max(n, 0), nil
}

// Backlog returns the messages UnsummarizedCount counts, oldest first.
func (t *Trigger) Backlog(ctx context.Context, g Group) ([]Message, error) {
	to, ok, err := t.lastCovered(ctx, g)
	if err != nil {
		return nil, err
	}
	if !ok {
		to = math.MinInt64
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT id, conversation_id, thread_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ? AND thread_id IS ? AND created_at > ?
		ORDER BY created_at ASC, id ASC`,
		g.ConversationID, g.Thread, to,
	)
	if err != nil {
		return nil, &PersistenceError{Op: "load backlog", Err: err}
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m         Message
			role      string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Thread, &role, &m.Content, &createdAt); err != nil {
			return nil, &PersistenceError{Op: "scan backlog", Err: err}
		}
		m.Role = Role(role)
		m.CreatedAt = TimeFromColumn(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "iterate backlog", Err: err}
	}
	return msgs, nil
}
