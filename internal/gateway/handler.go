package gateway

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/pairloop/chat-engine/internal/chat"
	"github.com/pairloop/chat-engine/internal/engine"
	"github.com/pairloop/chat-engine/internal/matching"
	"github.com/pairloop/chat-engine/internal/protocol"
	"github.com/pairloop/chat-engine/internal/session"
	"github.com/pairloop/chat-engine/internal/store"
)

// handleMessage dispatches one client frame to its engine operation.
func (s *Server) handleMessage(c *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		s.sendError(c, "bad_message", err.Error())
		return
	}

	switch m := msg.(type) {
	case protocol.StartSeekingMsg:
		s.handleStartSeeking(c, m)
	case protocol.ChatMsg:
		s.handleChat(c, m)
	case protocol.TypingMsg:
		s.handleTyping(c, m)
	case protocol.SkipMsg:
		s.handleSkip(c, m)
	case protocol.StopMsg:
		s.handleStop(c)
	case protocol.HeartbeatMsg:
		s.handleHeartbeat(c)
	case protocol.HistoryMsg:
		s.handleHistory(c, m)
	default:
		s.sendError(c, "bad_message", "unhandled message type: "+msgType)
	}
}

// handleStartSeeking registers the participant, hooks the connection onto its
// event subject, and reports either an immediate match or the seeking state.
func (s *Server) handleStartSeeking(c *Connection, m protocol.StartSeekingMsg) {
	if c.Participant() != "" {
		s.sendError(c, "already_started", "connection already has a participant")
		return
	}

	ctx, cancel := opCtx()
	defer cancel()

	p, sess, err := s.engine.StartSeeking(ctx, m.Name, m.Gender, m.PreferredGender, m.Mode)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidProfile) {
			s.sendError(c, "invalid_profile", "name or gender rejected")
			return
		}
		log.Printf("[gateway] start seeking conn=%s: %v", c.ID, err)
		s.sendError(c, "internal", "could not start seeking")
		return
	}
	c.Bind(p.ID)

	if err := s.feed.SubscribeParticipantEvents(p.ID, func(data []byte) {
		s.onParticipantEvent(c, data)
	}); err != nil {
		log.Printf("[gateway] subscribe participant events %s: %v", p.ID, err)
	}

	s.sendServer(c, protocol.TypeSeeking, protocol.SeekingMsg{ParticipantID: p.ID})

	if sess != nil {
		s.applySession(c, sess.ID, "", sess.Mode)
		return
	}

	// The background matcher may have paired us between the engine call and
	// the subscription above; the store is the source of truth.
	if cur, err := s.engine.GetParticipant(ctx, p.ID); err == nil && cur.SessionID != "" {
		s.applySession(c, cur.SessionID, "", "")
	}
}

// onParticipantEvent bridges a participant-subject event onto the connection.
func (s *Server) onParticipantEvent(c *Connection, raw []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("[gateway] decode participant event conn=%s: %v", c.ID, err)
		return
	}

	switch env.Type {
	case "matched":
		var ev matching.MatchedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("[gateway] decode matched event conn=%s: %v", c.ID, err)
			return
		}
		s.applySession(c, ev.SessionID, ev.PartnerName, ev.Mode)
	case "ended":
		var ev session.LifecycleEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("[gateway] decode lifecycle event conn=%s: %v", c.ID, err)
			return
		}
		s.onSessionEnded(c, ev.SessionID, ev.Reason)
	case "departed":
		// The stop handler already acknowledged; nothing to relay.
	}
}

// applySession records a session binding on the connection, subscribes its
// session and chat subjects, and announces the match. The direct pairing
// result and the feed notification both land here; SetSession makes the
// second arrival a no-op.
func (s *Server) applySession(c *Connection, sessionID, partnerName, mode string) {
	if !c.SetSession(sessionID) {
		return
	}
	pid := c.Participant()

	if err := s.feed.SubscribeSessionEvents(sessionID, pid, func(data []byte) {
		var ev session.LifecycleEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Type == "ended" {
			s.onSessionEnded(c, ev.SessionID, ev.Reason)
		}
	}); err != nil {
		log.Printf("[gateway] subscribe session events %s: %v", sessionID, err)
	}
	if err := s.feed.SubscribeChatMessages(sessionID, pid, func(data []byte) {
		s.onChatEvent(c, data)
	}); err != nil {
		log.Printf("[gateway] subscribe chat %s: %v", sessionID, err)
	}

	if partnerName == "" || mode == "" {
		ctx, cancel := opCtx()
		defer cancel()
		if partner, err := s.engine.SessionPartner(ctx, sessionID, pid); err == nil {
			partnerName = partner.DisplayName
		}
		if mode == "" {
			if sess, err := s.engine.GetSession(ctx, sessionID); err == nil {
				mode = sess.Mode
			}
		}
	}

	s.sendServer(c, protocol.TypeMatched, protocol.MatchedMsg{
		SessionID:   sessionID,
		PartnerName: partnerName,
		Mode:        mode,
	})
}

// onSessionEnded tears down a session binding once, regardless of how many
// feed events announce it.
func (s *Server) onSessionEnded(c *Connection, sessionID, reason string) {
	if !c.ClearSession(sessionID) {
		return
	}
	pid := c.Participant()
	_ = s.feed.UnsubscribeSessionEvents(pid)
	_ = s.feed.UnsubscribeChatMessages(pid)

	s.sendServer(c, protocol.TypeSessionEnded, protocol.SessionEndedMsg{
		SessionID: sessionID,
		Reason:    reason,
	})
}

// onChatEvent relays a chat-subject event. The sender sees its own message
// echoed back with from="you" as the delivery acknowledgement.
func (s *Server) onChatEvent(c *Connection, raw []byte) {
	var ev chat.MessageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Printf("[gateway] decode chat event conn=%s: %v", c.ID, err)
		return
	}
	pid := c.Participant()

	switch ev.Type {
	case "message":
		from := "partner"
		if ev.From == pid {
			from = "you"
		}
		s.sendServer(c, protocol.TypeChatMessage, protocol.ServerChatMsg{
			ID:      ev.ID,
			From:    from,
			Content: ev.Content,
			Ts:      ev.Ts,
		})
	case "typing":
		if ev.From == pid {
			return
		}
		s.sendServer(c, protocol.TypeChatTyping, protocol.ServerTypingMsg{IsTyping: ev.IsTyping})
	}
}

func (s *Server) handleChat(c *Connection, m protocol.ChatMsg) {
	pid := c.Participant()
	if pid == "" {
		s.sendError(c, "not_started", "start seeking first")
		return
	}

	ctx, cancel := opCtx()
	defer cancel()

	if _, err := s.engine.SendMessage(ctx, m.SessionID, pid, m.Content, m.IdempotencyKey); err != nil {
		switch {
		case errors.Is(err, chat.ErrInvalidContent):
			s.sendError(c, "invalid_content", "message empty or too long")
		case errors.Is(err, chat.ErrSessionNotActive):
			s.sendError(c, "session_ended", "session is not active")
		case errors.Is(err, store.ErrNotFound):
			s.sendError(c, "not_found", "unknown session")
		case errors.Is(err, engine.ErrRateLimited):
			s.sendError(c, "rate_limited", "sending too fast")
		default:
			log.Printf("[gateway] send message conn=%s: %v", c.ID, err)
			s.sendError(c, "internal", "could not send message")
		}
	}
	// Delivery to this client comes back through the chat subject.
}

func (s *Server) handleTyping(c *Connection, m protocol.TypingMsg) {
	pid := c.Participant()
	if pid == "" {
		return
	}

	ctx, cancel := opCtx()
	defer cancel()
	if err := s.engine.Typing(ctx, m.SessionID, pid, m.IsTyping); err != nil {
		log.Printf("[gateway] typing conn=%s: %v", c.ID, err)
	}
}

func (s *Server) handleSkip(c *Connection, m protocol.SkipMsg) {
	pid := c.Participant()
	if pid == "" {
		s.sendError(c, "not_started", "start seeking first")
		return
	}

	ctx, cancel := opCtx()
	defer cancel()

	sess, err := s.engine.Skip(ctx, m.SessionID, pid)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotParticipant):
			s.sendError(c, "not_participant", "not bound to that session")
		case errors.Is(err, store.ErrNotFound):
			s.sendError(c, "not_found", "unknown session")
		case errors.Is(err, engine.ErrRateLimited):
			s.sendError(c, "rate_limited", "skipping too fast")
		default:
			log.Printf("[gateway] skip conn=%s: %v", c.ID, err)
			s.sendError(c, "internal", "could not skip")
		}
		return
	}

	// The invoker asked for the end; the fresh search result is the answer,
	// not a session_ended notification.
	c.ClearSession(m.SessionID)

	s.sendServer(c, protocol.TypeSeeking, protocol.SeekingMsg{ParticipantID: pid})
	if sess != nil {
		s.applySession(c, sess.ID, "", sess.Mode)
	}
}

func (s *Server) handleStop(c *Connection) {
	pid := c.Participant()
	if pid == "" {
		s.sendError(c, "not_started", "start seeking first")
		return
	}

	ctx, cancel := opCtx()
	defer cancel()

	if err := s.engine.Stop(ctx, pid); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("[gateway] stop conn=%s: %v", c.ID, err)
		s.sendError(c, "internal", "could not stop")
		return
	}

	c.ClearSession(c.Session())
	s.unsubscribeAll(pid)
	s.sendServer(c, protocol.TypeStopped, protocol.StoppedMsg{})
}

func (s *Server) handleHeartbeat(c *Connection) {
	pid := c.Participant()
	if pid == "" {
		s.sendError(c, "not_started", "start seeking first")
		return
	}

	ctx, cancel := opCtx()
	defer cancel()
	if err := s.engine.Heartbeat(ctx, pid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(c, "not_found", "unknown participant")
			return
		}
		log.Printf("[gateway] heartbeat conn=%s: %v", c.ID, err)
		return
	}
	s.sendServer(c, protocol.TypeHeartbeatAck, protocol.HeartbeatAckMsg{})
}

func (s *Server) handleHistory(c *Connection, m protocol.HistoryMsg) {
	pid := c.Participant()
	if pid == "" {
		s.sendError(c, "not_started", "start seeking first")
		return
	}

	ctx, cancel := opCtx()
	defer cancel()

	msgs, err := s.engine.History(ctx, m.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(c, "not_found", "unknown session")
			return
		}
		log.Printf("[gateway] history conn=%s: %v", c.ID, err)
		s.sendError(c, "internal", "could not load history")
		return
	}

	entries := make([]protocol.HistoryEntry, 0, len(msgs))
	for _, msg := range msgs {
		from := "partner"
		if msg.SenderID == pid {
			from = "you"
		}
		entries = append(entries, protocol.HistoryEntry{
			ID:      msg.ID,
			From:    from,
			Content: msg.Content,
			Ts:      msg.SentAt.UnixMilli(),
		})
	}
	s.sendServer(c, protocol.TypeChatHistory, protocol.ChatHistoryMsg{
		SessionID: m.SessionID,
		Messages:  entries,
	})
}

// sendServer marshals and writes a typed server message.
func (s *Server) sendServer(c *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[gateway] encode %s: %v", msgType, err)
		return
	}
	s.send(c, data)
}

// sendError writes an error message to the client.
func (s *Server) sendError(c *Connection, code, message string) {
	s.sendServer(c, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}
