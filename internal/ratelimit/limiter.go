// Package ratelimit provides redis-backed throttling using the INCR + EXPIRE
// fixed-window algorithm. The engine applies it per participant so one noisy
// client cannot flood a session or churn through partners.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines one throttling policy: the redis key prefix, the maximum count
// in the window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleMessage bounds message sends per participant.
	RuleMessage = Rule{Key: "rl:message:", Limit: 10, Window: 10 * time.Second}

	// RuleSkip bounds skips per participant, so partners are not churned
	// through faster than the matcher can serve anyone else.
	RuleSkip = Rule{Key: "rl:skip:", Limit: 10, Window: time.Minute}
)

// Limiter performs throttling checks against redis.
type Limiter struct {
	rdb *redis.Client
}

// NewLimiter creates a limiter backed by the given redis client.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Allow reports whether the identifier is within the rule's limit and counts
// this call against the window. On redis errors the limiter fails open so an
// outage does not block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] incr %s: %v (failing open)", key, err)
		return true, err
	}

	// First increment defines the window boundary.
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] expire %s: %v (failing open)", key, err)
			// The key has no TTL and would throttle the identifier forever;
			// drop it.
			l.rdb.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns how many calls the identifier has left in the current
// window. Unknown identifiers have the full limit; redis errors fail open.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.rdb.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] get %s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
