// Package presence tracks participant liveness. Clients beat on a fixed
// interval and opportunistically on every outbound action; a participant is
// live while its last heartbeat is within the threshold.
package presence

import (
	"context"
	"time"

	"github.com/pairloop/chat-engine/internal/pool"
	"github.com/pairloop/chat-engine/internal/store"
)

const (
	// HeartbeatInterval is how often clients are expected to beat.
	HeartbeatInterval = 15 * time.Second

	// LivenessThreshold is the maximum heartbeat age before a participant
	// is considered offline. Twice the interval, so one missed beat is
	// tolerated.
	LivenessThreshold = 2 * HeartbeatInterval
)

// Tracker records heartbeats against the store and keeps pooled seekers from
// expiring out of the index.
type Tracker struct {
	store *store.Store
	pool  *pool.Pool
}

// NewTracker creates a presence tracker.
func NewTracker(st *store.Store, p *pool.Pool) *Tracker {
	return &Tracker{store: st, pool: p}
}

// Heartbeat marks the participant live now. Idempotent, callable at any
// rate. Returns store.ErrNotFound for unknown or departed participants.
func (t *Tracker) Heartbeat(ctx context.Context, participantID string) error {
	if err := t.store.Touch(ctx, participantID); err != nil {
		return err
	}
	// Pool refresh is best-effort; the store timestamp is authoritative.
	return t.pool.Refresh(ctx, participantID)
}

// IsLive reports whether a last-seen timestamp is within the threshold of
// now.
func IsLive(lastSeen time.Time, threshold time.Duration, now time.Time) bool {
	return now.Sub(lastSeen) <= threshold
}
