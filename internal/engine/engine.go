// Package engine exposes the client-facing operations of the pairing
// service: start seeking, send message, skip, stop, heartbeat. It composes
// presence, matching, session lifecycle, and the message channel behind one
// facade so every front door (gateway, feed consumers, tests) drives the
// same code paths.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/pairloop/chat-engine/internal/chat"
	"github.com/pairloop/chat-engine/internal/feed"
	"github.com/pairloop/chat-engine/internal/matching"
	"github.com/pairloop/chat-engine/internal/pool"
	"github.com/pairloop/chat-engine/internal/presence"
	"github.com/pairloop/chat-engine/internal/ratelimit"
	"github.com/pairloop/chat-engine/internal/session"
	"github.com/pairloop/chat-engine/internal/store"
)

// MaxDisplayNameChars bounds the display name length after trimming.
const MaxDisplayNameChars = 30

// pairAttempts bounds how many search-and-bind rounds one operation runs
// before parking the seeker in the pool for the background matcher.
const pairAttempts = 3

// ErrInvalidProfile means the declared identity failed validation: empty or
// over-long display name, or an unknown gender value.
var ErrInvalidProfile = errors.New("engine: invalid profile")

// ErrRateLimited means the participant exceeded a throttling rule. The
// operation was not performed; retrying after the window passes succeeds.
var ErrRateLimited = errors.New("engine: rate limited")

// Engine is the operations facade.
type Engine struct {
	store     *store.Store
	pool      *pool.Pool
	feed      *feed.Client
	presence  *presence.Tracker
	matcher   *matching.Matcher
	pairer    *matching.Pairer
	lifecycle *session.Service
	channel   *chat.Channel
	limiter   *ratelimit.Limiter
}

// New wires an engine over the shared infrastructure. limiter may be nil, in
// which case no throttling is applied.
func New(st *store.Store, p *pool.Pool, fc *feed.Client, limiter *ratelimit.Limiter) *Engine {
	tracker := presence.NewTracker(st, p)
	return &Engine{
		store:     st,
		pool:      p,
		feed:      fc,
		presence:  tracker,
		matcher:   matching.NewMatcher(st, p),
		pairer:    matching.NewPairer(st, p, fc),
		lifecycle: session.NewService(st, p, fc),
		channel:   chat.NewChannel(st, fc, tracker),
		limiter:   limiter,
	}
}

// allow checks a throttling rule for a participant. Limiter errors fail open
// inside the limiter itself, so only a definite over-limit answer denies.
func (e *Engine) allow(ctx context.Context, participantID string, rule ratelimit.Rule) bool {
	if e.limiter == nil {
		return true
	}
	ok, _ := e.limiter.Allow(ctx, participantID, rule)
	return ok
}

// StartSeeking registers a new participant and looks for a partner. When a
// compatible live counterpart is found and bound immediately, the new
// session is returned alongside the participant; otherwise the participant
// is parked in the pool (session nil) and will be matched by the background
// service, learning of it through its participant-event subject.
func (e *Engine) StartSeeking(ctx context.Context, name, gender, preferred, mode string) (*store.Participant, *store.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > MaxDisplayNameChars {
		return nil, nil, ErrInvalidProfile
	}
	if !validGender(gender) || !validGender(preferred) {
		return nil, nil, ErrInvalidProfile
	}
	if mode == "" {
		mode = store.ModeText
	}

	p := &store.Participant{
		ID:              uuid.New().String(),
		DisplayName:     name,
		Gender:          gender,
		PreferredGender: preferred,
	}
	if err := e.store.CreateParticipant(ctx, p); err != nil {
		return nil, nil, err
	}
	// Re-read to pick up store-assigned timestamps.
	p, err := e.store.GetParticipant(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}

	sess, err := e.seek(ctx, p, mode)
	if err != nil {
		return nil, nil, err
	}
	return p, sess, nil
}

// seek runs the bounded immediate-match rounds for a seeker and parks it in
// the pool when nobody is available. A lost bind race simply means the
// candidate was claimed first; the next round rescans.
func (e *Engine) seek(ctx context.Context, p *store.Participant, mode string) (*store.Session, error) {
	for attempt := 0; attempt < pairAttempts; attempt++ {
		partner, err := e.matcher.FindPartner(ctx, p)
		if err != nil {
			return nil, err
		}
		if partner == nil {
			break
		}

		sess, err := e.pairer.Pair(ctx, p, partner, mode)
		if errors.Is(err, matching.ErrRaceLost) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return sess, nil
	}

	if err := e.pool.Add(ctx, p.ID, p.JoinedAt); err != nil {
		return nil, err
	}
	e.announceSeek(p.ID)
	log.Printf("[engine] seeking participant=%s", p.ID)
	return nil, nil
}

// announceSeek publishes the seek command so the background matcher considers
// the new seeker immediately instead of on its next pool tick. Best effort:
// the seeker is already pooled, so a lost publish only delays the match.
func (e *Engine) announceSeek(participantID string) {
	data, err := json.Marshal(matching.SeekRequest{ParticipantID: participantID})
	if err != nil {
		return
	}
	if err := e.feed.PublishSeekRequest(data); err != nil {
		log.Printf("[engine] publish seek request %s: %v", participantID, err)
	}
}

// SendMessage appends a message to a matched session. idemKey may be empty;
// when supplied, client retries of the same send are collapsed to one
// stored message.
func (e *Engine) SendMessage(ctx context.Context, sessionID, participantID, content, idemKey string) (*store.Message, error) {
	if !e.allow(ctx, participantID, ratelimit.RuleMessage) {
		return nil, ErrRateLimited
	}
	return e.channel.Send(ctx, sessionID, participantID, content, idemKey)
}

// Typing relays a typing indicator to the partner. Nothing is persisted.
func (e *Engine) Typing(ctx context.Context, sessionID, participantID string, isTyping bool) error {
	return e.channel.Typing(ctx, sessionID, participantID, isTyping)
}

// History returns the ordered message sequence for a session.
func (e *Engine) History(ctx context.Context, sessionID string) ([]store.Message, error) {
	return e.channel.History(ctx, sessionID)
}

// Skip ends the invoker's session and immediately starts a new search for
// the invoker. The partner is released to seeking but is not searched until
// it re-enters on its own. Returns the new session if the fresh search
// paired instantly, nil if the invoker is back in the pool.
func (e *Engine) Skip(ctx context.Context, sessionID, participantID string) (*store.Session, error) {
	if !e.allow(ctx, participantID, ratelimit.RuleSkip) {
		return nil, ErrRateLimited
	}

	prev, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := e.lifecycle.Skip(ctx, sessionID, participantID); err != nil {
		return nil, err
	}

	p, err := e.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if !p.Seeking {
		// A stop-ended session leaves the survivor unbound but not seeking;
		// skipping from there re-enters the search. SetSeeking refuses
		// offline or departed participants, so a mid-skip disconnect still
		// stays out.
		ok, err := e.store.SetSeeking(ctx, participantID, true)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		p.Seeking = true
	}
	return e.seek(ctx, p, prev.Mode)
}

// Stop is the terminal exit: any bound session ends and the participant
// departs. The withdrawal is also published on the seek-cancel subject so
// matcher processes evict the seeker from their view of the pool. Safe to
// retry.
func (e *Engine) Stop(ctx context.Context, participantID string) error {
	if err := e.lifecycle.Stop(ctx, participantID); err != nil {
		return err
	}
	if data, err := json.Marshal(matching.SeekCancel{ParticipantID: participantID}); err == nil {
		if err := e.feed.PublishSeekCancel(data); err != nil {
			log.Printf("[engine] publish seek cancel %s: %v", participantID, err)
		}
	}
	return nil
}

// Heartbeat marks the participant live. Idempotent at any call rate.
func (e *Engine) Heartbeat(ctx context.Context, participantID string) error {
	return e.presence.Heartbeat(ctx, participantID)
}

// GetParticipant returns the current participant record.
func (e *Engine) GetParticipant(ctx context.Context, participantID string) (*store.Participant, error) {
	return e.store.GetParticipant(ctx, participantID)
}

// GetSession returns the current session record.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	return e.store.GetSession(ctx, sessionID)
}

// SessionPartner returns the other participant bound to a session. Returns
// store.ErrNotFound when the session has no such binding (ended or unknown).
func (e *Engine) SessionPartner(ctx context.Context, sessionID, selfID string) (*store.Participant, error) {
	parts, err := e.store.SessionParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range parts {
		if parts[i].ID != selfID {
			return &parts[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func validGender(g string) bool {
	switch g {
	case store.GenderMale, store.GenderFemale, store.GenderAny:
		return true
	}
	return false
}
