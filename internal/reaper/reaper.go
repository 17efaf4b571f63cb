// Package reaper sweeps for participants whose heartbeats stopped and
// force-ends the sessions they abandoned. Heartbeats can stop silently —
// crash, network loss — without either side invoking stop; this is the only
// component allowed to end a session without a participant action.
package reaper

import (
	"context"
	"log"
	"time"

	"github.com/pairloop/chat-engine/internal/pool"
	"github.com/pairloop/chat-engine/internal/presence"
	"github.com/pairloop/chat-engine/internal/session"
	"github.com/pairloop/chat-engine/internal/store"
)

// SweepInterval is the period between scheduled sweeps.
const SweepInterval = 30 * time.Second

// Reaper runs the stale-session sweep.
type Reaper struct {
	store     *store.Store
	pool      *pool.Pool
	lifecycle *session.Service
}

// New creates a reaper.
func New(st *store.Store, p *pool.Pool, lc *session.Service) *Reaper {
	return &Reaper{store: st, pool: p, lifecycle: lc}
}

// Sweep runs one pass: silent participants go offline and stop seeking, and
// matched sessions with no live side left are ended. Idempotent — a repeated
// sweep over the same state changes nothing. Errors are logged, never
// propagated; the next period retries.
func (r *Reaper) Sweep(ctx context.Context) {
	staleIDs, err := r.store.MarkStaleOffline(ctx, presence.LivenessThreshold)
	if err != nil {
		log.Printf("[reaper] mark stale: %v", err)
		return
	}
	for _, id := range staleIDs {
		if err := r.pool.Remove(ctx, id); err != nil {
			log.Printf("[reaper] pool remove %s: %v", id, err)
		}
	}
	if len(staleIDs) > 0 {
		log.Printf("[reaper] marked %d participants offline", len(staleIDs))
	}

	abandoned, err := r.store.AbandonedSessions(ctx)
	if err != nil {
		log.Printf("[reaper] abandoned sessions: %v", err)
		return
	}
	for _, sessionID := range abandoned {
		if err := r.lifecycle.End(ctx, sessionID, session.ReasonReaped, ""); err != nil {
			log.Printf("[reaper] end session %s: %v", sessionID, err)
		}
	}
	if len(abandoned) > 0 {
		log.Printf("[reaper] ended %d abandoned sessions", len(abandoned))
	}
}

// Run sweeps on the fixed period until the context is cancelled. Deployments
// with an external scheduler call Sweep directly instead.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[reaper] stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}
