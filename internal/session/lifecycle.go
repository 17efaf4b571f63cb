// Package session governs the session lifecycle: matched sessions end on
// skip, stop, or reaper sweep, release their participants, and notify both
// sides through the change feed. Ended is terminal; ending an already-ended
// session is a no-op.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pairloop/chat-engine/internal/feed"
	"github.com/pairloop/chat-engine/internal/metrics"
	"github.com/pairloop/chat-engine/internal/pool"
	"github.com/pairloop/chat-engine/internal/store"
)

// End reasons carried on lifecycle events so clients can distinguish why
// their chat ended.
const (
	ReasonSkip   = "skip"
	ReasonStop   = "stop"
	ReasonReaped = "reaped"
)

// ErrNotParticipant is returned when an operation names a session the
// participant is not bound to.
var ErrNotParticipant = errors.New("session: participant not bound to session")

// LifecycleEvent is published on the session subject and both participants'
// subjects for every transition.
type LifecycleEvent struct {
	Type      string `json:"type"` // "ended"
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	ByID      string `json:"by_id,omitempty"` // invoker, empty for reaper
	Ts        int64  `json:"ts"`
}

// Service applies lifecycle transitions.
type Service struct {
	store *store.Store
	pool  *pool.Pool
	feed  *feed.Client
}

// NewService creates a lifecycle service.
func NewService(st *store.Store, p *pool.Pool, fc *feed.Client) *Service {
	return &Service{store: st, pool: p, feed: fc}
}

// End transitions a matched session to ended, releases both participants,
// and notifies both sides. On a skip both online participants return to
// seeking; on a stop neither does — the survivor stays online but must
// re-enter search explicitly. Offline participants are never left seeking.
// Idempotent: ending an ended session changes nothing and returns nil.
// Unknown sessions return store.ErrNotFound.
func (s *Service) End(ctx context.Context, sessionID, reason, byID string) error {
	// Snapshot the bindings before the transition clears them.
	parts, err := s.store.SessionParticipants(ctx, sessionID)
	if err != nil {
		return err
	}

	ended, err := s.store.EndSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ended {
		// Already ended (or never existed as matched). Distinguish the two
		// so stale IDs surface as not-found.
		if _, err := s.store.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return nil
	}

	release := reason != ReasonStop
	for i := range parts {
		p := &parts[i]
		if err := s.store.UnbindParticipant(ctx, p.ID, sessionID, release); err != nil {
			log.Printf("[session] release %s from %s: %v", p.ID, sessionID, err)
		}
	}

	event := LifecycleEvent{
		Type:      "ended",
		SessionID: sessionID,
		Reason:    reason,
		ByID:      byID,
		Ts:        time.Now().Unix(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("session: marshal lifecycle event: %w", err)
	}
	if err := s.feed.PublishSessionEvent(sessionID, data); err != nil {
		log.Printf("[session] publish session event %s: %v", sessionID, err)
	}
	for i := range parts {
		if err := s.feed.PublishParticipantEvent(parts[i].ID, data); err != nil {
			log.Printf("[session] publish participant event %s: %v", parts[i].ID, err)
		}
	}

	metrics.SessionsEndedTotal.WithLabelValues(reason).Inc()
	log.Printf("[session] ended session=%s reason=%s by=%s", sessionID, reason, byID)
	return nil
}

// Skip ends a session on behalf of one of its participants. The invoker is
// expected to re-enter search immediately (the engine handles that); the
// partner is released to seeking but must re-enter search itself after
// observing the ended event. Skipping an already-ended session is a no-op.
func (s *Service) Skip(ctx context.Context, sessionID, invokerID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == store.StatusEnded {
		return nil
	}

	parts, err := s.store.SessionParticipants(ctx, sessionID)
	if err != nil {
		return err
	}
	if !isParty(parts, invokerID) {
		return ErrNotParticipant
	}

	return s.End(ctx, sessionID, ReasonSkip, invokerID)
}

// Stop is the unconditional terminal exit for a participant: any bound
// session ends with neither side returned to seeking, and the invoker is
// marked departed — offline, not seeking, never matchable again under this
// identity. The partner stays online and re-enters search on its own.
// Idempotent.
func (s *Service) Stop(ctx context.Context, participantID string) error {
	p, err := s.store.GetParticipant(ctx, participantID)
	if err != nil {
		return err
	}

	if p.SessionID != "" {
		if err := s.End(ctx, p.SessionID, ReasonStop, participantID); err != nil {
			return err
		}
	}

	if err := s.store.MarkDeparted(ctx, participantID); err != nil {
		return err
	}
	if err := s.pool.Remove(ctx, participantID); err != nil {
		log.Printf("[session] pool remove %s: %v", participantID, err)
	}

	event := LifecycleEvent{
		Type: "departed",
		ByID: participantID,
		Ts:   time.Now().Unix(),
	}
	data, _ := json.Marshal(event)
	if err := s.feed.PublishParticipantEvent(participantID, data); err != nil {
		log.Printf("[session] publish departed event %s: %v", participantID, err)
	}

	log.Printf("[session] stopped participant=%s", participantID)
	return nil
}

func isParty(parts []store.Participant, id string) bool {
	for i := range parts {
		if parts[i].ID == id {
			return true
		}
	}
	return false
}
