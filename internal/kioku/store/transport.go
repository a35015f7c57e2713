package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// ConversationForRoom returns the conversation id for a chat room, creating
// it on first sight.
func (s *Store) ConversationForRoom(ctx context.Context, roomID string) (int64, error) {
	if roomID == "" {
		return 0, &memory.ValidationError{Field: "room_id", Reason: "empty"}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (room_id, created_at) VALUES (?, ?)
		ON CONFLICT(room_id) DO NOTHING`,
		roomID, s.stamp(s.now()),
	)
	if err != nil {
		return 0, &memory.PersistenceError{Op: "upsert conversation", Err: err}
	}

	var id int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM conversations WHERE room_id = ?", roomID,
	).Scan(&id); err != nil {
		return 0, &memory.PersistenceError{Op: "load conversation", Err: err}
	}
	return id, nil
}

// RoomForConversation is the inverse of ConversationForRoom.
func (s *Store) RoomForConversation(ctx context.Context, conversationID int64) (string, error) {
	var roomID string
	err := s.db.QueryRowContext(ctx,
		"SELECT room_id FROM conversations WHERE id = ?", conversationID,
	).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &memory.PersistenceError{
			Op:  "load room",
			Err: fmt.Errorf("%w: conversation %d", memory.ErrRowNotFound, conversationID),
		}
	}
	if err != nil {
		return "", &memory.PersistenceError{Op: "load room", Err: err}
	}
	return roomID, nil
}

// ThreadForRoot returns the thread id for a thread root event, creating it
// on first sight. An empty rootEventID is the unthreaded conversation.
func (s *Store) ThreadForRoot(ctx context.Context, conversationID int64, rootEventID string) (memory.Thread, error) {
	if rootEventID == "" {
		return memory.NoThread, nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (conversation_id, root_event_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(root_event_id) DO NOTHING`,
		conversationID, rootEventID, s.stamp(s.now()),
	)
	if err != nil {
		return memory.NoThread, &memory.PersistenceError{Op: "upsert thread", Err: err}
	}

	var id int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM threads WHERE root_event_id = ?", rootEventID,
	).Scan(&id); err != nil {
		return memory.NoThread, &memory.PersistenceError{Op: "load thread", Err: err}
	}
	return memory.InThread(id), nil
}

// RootForThread returns the root event id of a thread.
func (s *Store) RootForThread(ctx context.Context, t memory.Thread) (string, error) {
	if !t.Set {
		return "", nil
	}
	var root string
	err := s.db.QueryRowContext(ctx,
		"SELECT root_event_id FROM threads WHERE id = ?", t.ID,
	).Scan(&root)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &memory.PersistenceError{
			Op:  "load thread root",
			Err: fmt.Errorf("%w: thread %d", memory.ErrRowNotFound, t.ID),
		}
	}
	if err != nil {
		return "", &memory.PersistenceError{Op: "load thread root", Err: err}
	}
	return root, nil
}
