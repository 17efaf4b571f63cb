// Package chat appends and orders messages within an active session and
// fans them out to both sides through the change feed. History hydrates a
// joining consumer; the live feed carries everything after.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/pairloop/chat-engine/internal/feed"
	"github.com/pairloop/chat-engine/internal/metrics"
	"github.com/pairloop/chat-engine/internal/presence"
	"github.com/pairloop/chat-engine/internal/store"
)

// ErrSessionNotActive means the target session is not in matched status;
// clients surface it as "your chat has ended".
var ErrSessionNotActive = errors.New("chat: session not active")

// Channel is the message channel over a session.
type Channel struct {
	store    *store.Store
	feed     *feed.Client
	presence *presence.Tracker
}

// NewChannel creates a message channel.
func NewChannel(st *store.Store, fc *feed.Client, tr *presence.Tracker) *Channel {
	return &Channel{store: st, feed: fc, presence: tr}
}

// Send validates and appends a message, then emits it to the session's chat
// subject. The sender must be bound to the session and the session must be
// matched. An optional idempotency key makes client-side retries safe: a
// duplicate send returns the already-stored message.
//
// The matched-status check is best-effort — a send racing the session's end
// may still land — but no message is ever accepted after the terminal state
// has been observed.
func (c *Channel) Send(ctx context.Context, sessionID, senderID, content, idemKey string) (*store.Message, error) {
	trimmed, err := ValidateContent(content)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if sess.Status != store.StatusMatched {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrSessionNotActive
	}

	sender, err := c.store.GetParticipant(ctx, senderID)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if sender.SessionID != sessionID {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrSessionNotActive
	}

	// Every outbound action doubles as a heartbeat.
	if err := c.presence.Heartbeat(ctx, senderID); err != nil {
		log.Printf("[chat] heartbeat on send %s: %v", senderID, err)
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		SenderID:       senderID,
		Content:        trimmed,
		IdempotencyKey: idemKey,
	}
	stored, err := c.store.InsertMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("chat: append: %w", err)
	}
	if stored.ID != msg.ID {
		// The idempotency key matched an earlier append; nothing new to emit.
		metrics.MessagesTotal.WithLabelValues("deduplicated").Inc()
		return stored, nil
	}

	event := MessageEvent{
		Type:      "message",
		ID:        stored.ID,
		SessionID: sessionID,
		From:      senderID,
		Content:   stored.Content,
		Ts:        stored.SentAt.UnixMilli(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("chat: marshal event: %w", err)
	}
	if err := c.feed.PublishChatMessage(sessionID, data); err != nil {
		// The append is durable; a failed emit is recovered by history
		// hydration on the consumer side.
		log.Printf("[chat] publish message %s: %v", stored.ID, err)
	}

	metrics.MessagesTotal.WithLabelValues("accepted").Inc()
	return stored, nil
}

// Typing relays a typing indicator to the session's chat subject without
// persisting anything. Only valid on a matched session the sender is bound
// to.
func (c *Channel) Typing(ctx context.Context, sessionID, senderID string, isTyping bool) error {
	sender, err := c.store.GetParticipant(ctx, senderID)
	if err != nil {
		return err
	}
	if sender.SessionID != sessionID {
		return ErrSessionNotActive
	}

	event := MessageEvent{
		Type:      "typing",
		SessionID: sessionID,
		From:      senderID,
		IsTyping:  isTyping,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("chat: marshal typing event: %w", err)
	}
	return c.feed.PublishChatMessage(sessionID, data)
}

// History returns the session's full message sequence ordered by
// (sent_at, id). Used once at session join to hydrate a transcript.
func (c *Channel) History(ctx context.Context, sessionID string) ([]store.Message, error) {
	if _, err := c.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.store.MessageHistory(ctx, sessionID)
}
