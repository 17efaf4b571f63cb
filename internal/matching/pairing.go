package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pairloop/chat-engine/internal/feed"
	"github.com/pairloop/chat-engine/internal/metrics"
	"github.com/pairloop/chat-engine/internal/pool"
	"github.com/pairloop/chat-engine/internal/store"
)

// ErrRaceLost means the conditional bind found a participant already claimed
// by a concurrent pairing. Not a fatal condition: the caller re-enters the
// search.
var ErrRaceLost = errors.New("matching: pairing lost the race")

// MatchedEvent is published on each participant's event subject when a
// pairing succeeds. Consumers that also completed the pairing call directly
// de-duplicate by SessionID.
type MatchedEvent struct {
	Type        string `json:"type"` // "matched"
	SessionID   string `json:"session_id"`
	PartnerID   string `json:"partner_id"`
	PartnerName string `json:"partner_name"`
	Mode        string `json:"mode"`
	Ts          int64  `json:"ts"`
}

// Pairer executes the atomic pairing transaction.
type Pairer struct {
	store *store.Store
	pool  *pool.Pool
	feed  *feed.Client
}

// NewPairer creates a pairer.
func NewPairer(st *store.Store, p *pool.Pool, fc *feed.Client) *Pairer {
	return &Pairer{store: st, pool: p, feed: fc}
}

// Pair creates a session in matched status and binds both participants to
// it, or changes nothing. The session insert and both conditional binds run
// in a single transaction; if either participant was claimed between search
// and bind the whole transaction rolls back and ErrRaceLost is returned, so
// no partial pairing is ever visible.
func (pr *Pairer) Pair(ctx context.Context, a, b *store.Participant, mode string) (*store.Session, error) {
	sessionID := uuid.New().String()

	sess, ok, err := pr.store.PairSession(ctx, sessionID, mode, a.ID, b.ID)
	if err != nil {
		return nil, fmt.Errorf("matching: pair %s/%s: %w", a.ID, b.ID, err)
	}
	if !ok {
		metrics.MatchesTotal.WithLabelValues("race_lost").Inc()
		return nil, ErrRaceLost
	}

	// Both sides are bound; winners leave the pool.
	if err := pr.pool.Remove(ctx, a.ID); err != nil {
		log.Printf("[matcher] pool remove %s: %v", a.ID, err)
	}
	if err := pr.pool.Remove(ctx, b.ID); err != nil {
		log.Printf("[matcher] pool remove %s: %v", b.ID, err)
	}

	pr.notify(a, b, sess)
	pr.notify(b, a, sess)

	now := time.Now()
	metrics.MatchesTotal.WithLabelValues("paired").Inc()
	metrics.MatchDuration.Observe(now.Sub(a.JoinedAt).Seconds())
	metrics.MatchDuration.Observe(now.Sub(b.JoinedAt).Seconds())

	log.Printf("[matcher] paired session=%s a=%s b=%s mode=%s", sessionID, a.ID, b.ID, mode)
	return sess, nil
}

// notify publishes the matched event to one participant's subject.
func (pr *Pairer) notify(to, partner *store.Participant, sess *store.Session) {
	event := MatchedEvent{
		Type:        "matched",
		SessionID:   sess.ID,
		PartnerID:   partner.ID,
		PartnerName: partner.DisplayName,
		Mode:        sess.Mode,
		Ts:          time.Now().Unix(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[matcher] marshal matched event: %v", err)
		return
	}
	if err := pr.feed.PublishParticipantEvent(to.ID, data); err != nil {
		log.Printf("[matcher] publish matched event for %s: %v", to.ID, err)
	}
}
