// Package pool maintains the redis index of current seekers. The index is a
// sorted set scored by joined-at time so a bounded window read always yields
// the longest-waiting (most eligible) candidates first. Per-seeker entry keys
// carry a TTL so seekers whose clients vanish age out of the index even if a
// sweep lags behind.
package pool

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPool        = "pool:seekers"       // sorted set, score = joined-at (ms)
	keyEntryPrefix = "pool:seeker:"       // + <participant_id>, TTL-bearing marker
	entryTTL       = 60 * time.Second
)

// CandidateWindow bounds how many pool entries a single search scans.
// Candidates beyond the window are picked up on later search cycles.
const CandidateWindow = 20

// Pool manages the seeker index in redis.
type Pool struct {
	rdb *redis.Client
}

// New creates a seeker pool backed by the given redis client.
func New(rdb *redis.Client) *Pool {
	return &Pool{rdb: rdb}
}

// Add inserts a seeker scored by its joined-at time. Re-adding an existing
// seeker refreshes its entry without changing its position.
func (p *Pool) Add(ctx context.Context, participantID string, joinedAt time.Time) error {
	pipe := p.rdb.Pipeline()
	pipe.ZAddNX(ctx, keyPool, redis.Z{
		Score:  float64(joinedAt.UnixMilli()),
		Member: participantID,
	})
	pipe.Set(ctx, keyEntryPrefix+participantID, "1", entryTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove deletes a seeker from the index. Removing an absent seeker is a
// no-op.
func (p *Pool) Remove(ctx context.Context, participantID string) error {
	pipe := p.rdb.Pipeline()
	pipe.ZRem(ctx, keyPool, participantID)
	pipe.Del(ctx, keyEntryPrefix+participantID)
	_, err := pipe.Exec(ctx)
	return err
}

// Refresh extends the TTL of a pooled seeker's entry. Called on heartbeat so
// live seekers never expire out of the index. Seekers not in the pool are
// left alone.
func (p *Pool) Refresh(ctx context.Context, participantID string) error {
	ok, err := p.Contains(ctx, participantID)
	if err != nil || !ok {
		return err
	}
	return p.rdb.Expire(ctx, keyEntryPrefix+participantID, entryTTL).Err()
}

// Contains reports whether a participant is currently indexed.
func (p *Pool) Contains(ctx context.Context, participantID string) (bool, error) {
	_, err := p.rdb.ZScore(ctx, keyPool, participantID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Window returns up to limit seeker IDs ordered by joined-at, oldest first.
// Entries whose TTL marker has expired are evicted from the sorted set as a
// side effect and excluded from the result.
func (p *Pool) Window(ctx context.Context, limit int) ([]string, error) {
	ids, err := p.rdb.ZRange(ctx, keyPool, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := p.rdb.Pipeline()
	checks := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		checks[i] = pipe.Exists(ctx, keyEntryPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	alive := make([]string, 0, len(ids))
	for i, id := range ids {
		if checks[i].Val() == 1 {
			alive = append(alive, id)
			continue
		}
		// Marker expired: the seeker's client vanished without cancelling.
		p.rdb.ZRem(ctx, keyPool, id)
	}
	return alive, nil
}

// Size returns the number of indexed seekers.
func (p *Pool) Size(ctx context.Context) (int64, error) {
	return p.rdb.ZCard(ctx, keyPool).Result()
}
