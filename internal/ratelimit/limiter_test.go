package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter connects to a local Redis on DB 15 and flushes it. Tests
// that call this helper require a running Redis on localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush test db: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllow_WithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}

	for i := 0; i < rule.Limit; i++ {
		allowed, err := l.Allow(ctx, "p1", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !allowed {
			t.Fatalf("call %d denied, want allowed", i+1)
		}
	}

	allowed, err := l.Allow(ctx, "p1", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Fatal("call over the limit was allowed")
	}
}

func TestAllow_IdentifiersIndependent(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Minute}

	if allowed, _ := l.Allow(ctx, "p1", rule); !allowed {
		t.Fatal("first call for p1 denied")
	}
	if allowed, _ := l.Allow(ctx, "p1", rule); allowed {
		t.Fatal("second call for p1 allowed")
	}
	// A different participant has its own window.
	if allowed, _ := l.Allow(ctx, "p2", rule); !allowed {
		t.Fatal("first call for p2 denied")
	}
}

func TestAllow_WindowExpires(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: 200 * time.Millisecond}

	if allowed, _ := l.Allow(ctx, "p1", rule); !allowed {
		t.Fatal("first call denied")
	}
	if allowed, _ := l.Allow(ctx, "p1", rule); allowed {
		t.Fatal("second call allowed inside window")
	}

	time.Sleep(300 * time.Millisecond)

	if allowed, _ := l.Allow(ctx, "p1", rule); !allowed {
		t.Fatal("call denied after window expired")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 5, Window: time.Minute}

	remaining, err := l.Remaining(ctx, "p1", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 5 {
		t.Errorf("Remaining() = %d before any calls, want 5", remaining)
	}

	l.Allow(ctx, "p1", rule)
	l.Allow(ctx, "p1", rule)

	remaining, _ = l.Remaining(ctx, "p1", rule)
	if remaining != 3 {
		t.Errorf("Remaining() = %d after 2 calls, want 3", remaining)
	}

	// Over-limit calls clamp at zero.
	for i := 0; i < 10; i++ {
		l.Allow(ctx, "p1", rule)
	}
	remaining, _ = l.Remaining(ctx, "p1", rule)
	if remaining != 0 {
		t.Errorf("Remaining() = %d when exhausted, want 0", remaining)
	}
}
