package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Message is one immutable chat turn. The ordering key is (SentAt, ID) so
// same-timestamp messages sort deterministically.
type Message struct {
	ID             string
	SessionID      string
	SenderID       string
	Content        string
	IdempotencyKey string
	SentAt         time.Time
}

// InsertMessage appends a message. When the message carries an idempotency
// key and a message with the same (session, key) already exists, the existing
// row is returned instead of a duplicate being appended.
func (s *Store) InsertMessage(ctx context.Context, m *Message) (*Message, error) {
	const query = `
		INSERT INTO messages (id, session_id, sender_id, content, idempotency_key, sent_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW())
		ON CONFLICT (session_id, idempotency_key) WHERE idempotency_key IS NOT NULL
		DO NOTHING
		RETURNING sent_at`

	err := s.db.QueryRowContext(ctx, query,
		m.ID, m.SessionID, m.SenderID, m.Content, m.IdempotencyKey).Scan(&m.SentAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict on the idempotency key: the original insert won.
		return s.getMessageByKey(ctx, m.SessionID, m.IdempotencyKey)
	}
	if err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}
	return m, nil
}

func (s *Store) getMessageByKey(ctx context.Context, sessionID, key string) (*Message, error) {
	const query = `
		SELECT id, session_id, sender_id, content, COALESCE(idempotency_key, ''), sent_at
		FROM messages
		WHERE session_id = $1 AND idempotency_key = $2`

	var m Message
	err := s.db.QueryRowContext(ctx, query, sessionID, key).Scan(
		&m.ID, &m.SessionID, &m.SenderID, &m.Content, &m.IdempotencyKey, &m.SentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get message by key: %w", err)
	}
	return &m, nil
}

// MessageHistory returns all messages for a session ordered by the
// (sent_at, id) key, oldest first.
func (s *Store) MessageHistory(ctx context.Context, sessionID string) ([]Message, error) {
	const query = `
		SELECT id, session_id, sender_id, content, COALESCE(idempotency_key, ''), sent_at
		FROM messages
		WHERE session_id = $1
		ORDER BY sent_at, id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: message history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.Content,
			&m.IdempotencyKey, &m.SentAt)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: message history: %w", err)
	}
	return out, nil
}
