// Package matching finds mutually compatible partners among live seekers and
// binds them into sessions. Searching is intentionally unlocked; the
// conditional bind inside Pair is the sole mechanism that prevents a
// participant from being claimed by two pairings at once.
package matching

import (
	"context"
	"time"

	"github.com/pairloop/chat-engine/internal/pool"
	"github.com/pairloop/chat-engine/internal/store"
)

// Matcher runs the read-only compatibility search over the pool window.
type Matcher struct {
	store *store.Store
	pool  *pool.Pool
}

// NewMatcher creates a matcher over the given store and pool.
func NewMatcher(st *store.Store, p *pool.Pool) *Matcher {
	return &Matcher{store: st, pool: p}
}

// FindPartner searches the pool window for the seeker's best mutually
// compatible counterpart. Returns nil with no error when nobody qualifies;
// the seeker is expected to stay pooled and retry on the next cycle.
func (m *Matcher) FindPartner(ctx context.Context, seeker *store.Participant) (*store.Participant, error) {
	ids, err := m.pool.Window(ctx, pool.CandidateWindow)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	candidates, err := m.store.GetParticipants(ctx, ids)
	if err != nil {
		return nil, err
	}

	return SelectCandidate(seeker, candidates, time.Now()), nil
}
