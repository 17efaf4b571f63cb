package matching

import (
	"time"

	"github.com/pairloop/chat-engine/internal/presence"
	"github.com/pairloop/chat-engine/internal/store"
)

// MutuallyCompatible reports whether two participants accept each other:
// each side's preferred gender is either "any" or the other side's declared
// gender.
func MutuallyCompatible(a, b *store.Participant) bool {
	return accepts(a.PreferredGender, b.Gender) && accepts(b.PreferredGender, a.Gender)
}

func accepts(preferred, gender string) bool {
	return preferred == store.GenderAny || preferred == gender
}

// SelectCandidate picks the best partner for the seeker from a candidate
// window: seeking, online, live within the threshold, mutually compatible,
// earliest joined first with ID as the deterministic tiebreak. Returns nil
// when no candidate survives.
//
// Selection is read-only and offers no exclusivity; two concurrent searches
// may pick the same candidate. The conditional bind in Pair resolves that
// race.
func SelectCandidate(seeker *store.Participant, candidates []store.Participant, now time.Time) *store.Participant {
	var best *store.Participant
	for i := range candidates {
		c := &candidates[i]
		if c.ID == seeker.ID {
			continue
		}
		if !c.Seeking || !c.Online {
			continue
		}
		if !presence.IsLive(c.LastSeen, presence.LivenessThreshold, now) {
			continue
		}
		if !MutuallyCompatible(seeker, c) {
			continue
		}
		if best == nil || earlier(c, best) {
			best = c
		}
	}
	return best
}

func earlier(a, b *store.Participant) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.ID < b.ID
}
