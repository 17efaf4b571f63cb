package matching

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/pairloop/chat-engine/internal/feed"
	"github.com/pairloop/chat-engine/internal/metrics"
	"github.com/pairloop/chat-engine/internal/pool"
	"github.com/pairloop/chat-engine/internal/presence"
	"github.com/pairloop/chat-engine/internal/store"
)

// matchInterval is how often the background loop walks the pool window.
const matchInterval = 2 * time.Second

// SeekRequest is the feed payload that puts a participant into the pool.
type SeekRequest struct {
	ParticipantID string `json:"participant_id"`
}

// SeekCancel is the feed payload that withdraws a participant from the pool.
type SeekCancel struct {
	ParticipantID string `json:"participant_id"`
}

// Service is the background matching service. It admits seekers via the
// feed, and on a fixed interval walks the pool window pairing compatible
// participants — so a seeker who found nobody at entry is matched as
// counterparts arrive.
type Service struct {
	store   *store.Store
	pool    *pool.Pool
	feed    *feed.Client
	matcher *Matcher
	pairer  *Pairer
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService creates the matching service.
func NewService(st *store.Store, p *pool.Pool, fc *feed.Client) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:   st,
		pool:    p,
		feed:    fc,
		matcher: NewMatcher(st, p),
		pairer:  NewPairer(st, p, fc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the seek subjects and starts the match loop.
func (s *Service) Start() error {
	if err := s.feed.SubscribeSeekRequests(s.handleSeekRequest); err != nil {
		return err
	}
	if err := s.feed.SubscribeSeekCancels(s.handleSeekCancel); err != nil {
		return err
	}

	go s.matchLoop()

	log.Println("[matcher] service started")
	return nil
}

// Stop shuts down the matching service.
func (s *Service) Stop() {
	s.cancel()
	log.Println("[matcher] service stopped")
}

func (s *Service) handleSeekRequest(data []byte) {
	var req SeekRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[matcher] invalid seek request: %v", err)
		return
	}

	p, err := s.store.GetParticipant(s.ctx, req.ParticipantID)
	if err != nil {
		log.Printf("[matcher] seek request %s: %v", req.ParticipantID, err)
		return
	}
	if !p.Seeking || p.SessionID != "" {
		return // already bound or withdrawn; nothing to admit
	}

	if err := s.pool.Add(s.ctx, p.ID, p.JoinedAt); err != nil {
		log.Printf("[matcher] pool add %s: %v", p.ID, err)
		return
	}

	size, _ := s.pool.Size(s.ctx)
	log.Printf("[matcher] admitted %s (pool size: %d)", p.ID, size)

	s.tryMatch(p)
}

func (s *Service) handleSeekCancel(data []byte) {
	var req SeekCancel
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[matcher] invalid seek cancel: %v", err)
		return
	}

	if err := s.pool.Remove(s.ctx, req.ParticipantID); err != nil {
		log.Printf("[matcher] pool remove %s: %v", req.ParticipantID, err)
		return
	}
	if _, err := s.store.SetSeeking(s.ctx, req.ParticipantID, false); err != nil {
		log.Printf("[matcher] clear seeking %s: %v", req.ParticipantID, err)
	}

	log.Printf("[matcher] withdrawn %s (cancelled)", req.ParticipantID)
}

// matchLoop walks the pool window on a fixed interval.
func (s *Service) matchLoop() {
	ticker := time.NewTicker(matchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("[matcher] match loop stopped")
			return
		case <-ticker.C:
			s.processPool()
		}
	}
}

// processPool attempts to pair every seeker currently in the window. A
// seeker that was claimed earlier in the same cycle fails the Contains
// re-check or loses the bind race; both are normal.
func (s *Service) processPool() {
	ids, err := s.pool.Window(s.ctx, pool.CandidateWindow)
	if err != nil {
		log.Printf("[matcher] pool window: %v", err)
		return
	}

	if size, err := s.pool.Size(s.ctx); err == nil {
		metrics.PoolSize.Set(float64(size))
	}
	if n, err := s.store.CountMatchedSessions(s.ctx); err == nil {
		metrics.ActiveSessions.Set(float64(n))
	}

	for _, id := range ids {
		pooled, err := s.pool.Contains(s.ctx, id)
		if err != nil || !pooled {
			continue
		}

		p, err := s.store.GetParticipant(s.ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			_ = s.pool.Remove(s.ctx, id)
			continue
		}
		if err != nil {
			continue
		}
		if !p.Seeking || p.SessionID != "" {
			// Bound or withdrawn since admission; evict the stale entry.
			_ = s.pool.Remove(s.ctx, id)
			continue
		}
		if !presence.IsLive(p.LastSeen, presence.LivenessThreshold, time.Now()) {
			continue // the reaper will flip it offline
		}

		s.tryMatch(p)
	}
}

// tryMatch runs one search-and-pair round for a seeker. Failures are logged
// and absorbed; the seeker stays pooled for the next cycle.
func (s *Service) tryMatch(p *store.Participant) {
	partner, err := s.matcher.FindPartner(s.ctx, p)
	if err != nil {
		log.Printf("[matcher] search for %s: %v", p.ID, err)
		return
	}
	if partner == nil {
		return
	}

	if _, err := s.pairer.Pair(s.ctx, p, partner, store.ModeText); err != nil {
		if errors.Is(err, ErrRaceLost) {
			return // contested candidate; next cycle retries
		}
		log.Printf("[matcher] pair %s with %s: %v", p.ID, partner.ID, err)
	}
}
