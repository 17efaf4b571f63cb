package matching

import (
	"testing"
	"time"

	"github.com/pairloop/chat-engine/internal/presence"
	"github.com/pairloop/chat-engine/internal/store"
)

func TestMutuallyCompatible(t *testing.T) {
	tests := []struct {
		name string
		a, b store.Participant
		want bool
	}{
		{
			name: "both any",
			a:    store.Participant{Gender: store.GenderMale, PreferredGender: store.GenderAny},
			b:    store.Participant{Gender: store.GenderFemale, PreferredGender: store.GenderAny},
			want: true,
		},
		{
			name: "exact mutual preference",
			a:    store.Participant{Gender: store.GenderMale, PreferredGender: store.GenderFemale},
			b:    store.Participant{Gender: store.GenderFemale, PreferredGender: store.GenderMale},
			want: true,
		},
		{
			name: "one side rejects",
			a:    store.Participant{Gender: store.GenderMale, PreferredGender: store.GenderFemale},
			b:    store.Participant{Gender: store.GenderFemale, PreferredGender: store.GenderFemale},
			want: false,
		},
		{
			name: "asymmetric any vs specific mismatch",
			a:    store.Participant{Gender: store.GenderMale, PreferredGender: store.GenderAny},
			b:    store.Participant{Gender: store.GenderMale, PreferredGender: store.GenderFemale},
			want: false,
		},
		{
			name: "same gender both accept",
			a:    store.Participant{Gender: store.GenderMale, PreferredGender: store.GenderMale},
			b:    store.Participant{Gender: store.GenderMale, PreferredGender: store.GenderMale},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MutuallyCompatible(&tt.a, &tt.b); got != tt.want {
				t.Errorf("MutuallyCompatible() = %v, want %v", got, tt.want)
			}
			// Compatibility is symmetric by construction.
			if got := MutuallyCompatible(&tt.b, &tt.a); got != tt.want {
				t.Errorf("MutuallyCompatible() reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func liveSeeker(id, gender, preferred string, joinedAt time.Time, now time.Time) store.Participant {
	return store.Participant{
		ID:              id,
		Gender:          gender,
		PreferredGender: preferred,
		Seeking:         true,
		Online:          true,
		LastSeen:        now,
		JoinedAt:        joinedAt,
	}
}

func TestSelectCandidate_EarliestWins(t *testing.T) {
	now := time.Now()
	seeker := liveSeeker("seeker", store.GenderMale, store.GenderAny, now, now)

	candidates := []store.Participant{
		liveSeeker("late", store.GenderFemale, store.GenderAny, now.Add(-time.Minute), now),
		liveSeeker("early", store.GenderFemale, store.GenderAny, now.Add(-time.Hour), now),
		liveSeeker("middle", store.GenderFemale, store.GenderAny, now.Add(-30*time.Minute), now),
	}

	got := SelectCandidate(&seeker, candidates, now)
	if got == nil || got.ID != "early" {
		t.Fatalf("SelectCandidate() = %v, want early", got)
	}
}

func TestSelectCandidate_IDTiebreak(t *testing.T) {
	now := time.Now()
	joined := now.Add(-time.Minute)
	seeker := liveSeeker("seeker", store.GenderMale, store.GenderAny, now, now)

	candidates := []store.Participant{
		liveSeeker("bbb", store.GenderFemale, store.GenderAny, joined, now),
		liveSeeker("aaa", store.GenderFemale, store.GenderAny, joined, now),
	}

	got := SelectCandidate(&seeker, candidates, now)
	if got == nil || got.ID != "aaa" {
		t.Fatalf("SelectCandidate() = %v, want aaa (ID tiebreak)", got)
	}
}

func TestSelectCandidate_FiltersIneligible(t *testing.T) {
	now := time.Now()
	joined := now.Add(-time.Hour)
	seeker := liveSeeker("seeker", store.GenderMale, store.GenderFemale, now, now)

	self := liveSeeker("seeker", store.GenderFemale, store.GenderAny, joined, now)

	notSeeking := liveSeeker("not-seeking", store.GenderFemale, store.GenderAny, joined, now)
	notSeeking.Seeking = false

	offline := liveSeeker("offline", store.GenderFemale, store.GenderAny, joined, now)
	offline.Online = false

	stale := liveSeeker("stale", store.GenderFemale, store.GenderAny, joined, now)
	stale.LastSeen = now.Add(-presence.LivenessThreshold - time.Second)

	wrongGender := liveSeeker("wrong-gender", store.GenderMale, store.GenderAny, joined, now)

	rejectsSeeker := liveSeeker("rejects", store.GenderFemale, store.GenderFemale, joined, now)

	candidates := []store.Participant{self, notSeeking, offline, stale, wrongGender, rejectsSeeker}
	if got := SelectCandidate(&seeker, candidates, now); got != nil {
		t.Fatalf("SelectCandidate() = %v, want nil (all ineligible)", got)
	}

	// Adding one eligible candidate makes it the pick despite joining last.
	ok := liveSeeker("ok", store.GenderFemale, store.GenderAny, now, now)
	candidates = append(candidates, ok)
	got := SelectCandidate(&seeker, candidates, now)
	if got == nil || got.ID != "ok" {
		t.Fatalf("SelectCandidate() = %v, want ok", got)
	}
}

func TestSelectCandidate_LivenessBoundary(t *testing.T) {
	now := time.Now()
	seeker := liveSeeker("seeker", store.GenderMale, store.GenderAny, now, now)

	// Exactly at the threshold is still live.
	atThreshold := liveSeeker("at-threshold", store.GenderFemale, store.GenderAny, now.Add(-time.Hour), now)
	atThreshold.LastSeen = now.Add(-presence.LivenessThreshold)

	got := SelectCandidate(&seeker, []store.Participant{atThreshold}, now)
	if got == nil || got.ID != "at-threshold" {
		t.Fatalf("SelectCandidate() = %v, want at-threshold", got)
	}
}

func TestSelectCandidate_Empty(t *testing.T) {
	now := time.Now()
	seeker := liveSeeker("seeker", store.GenderMale, store.GenderAny, now, now)
	if got := SelectCandidate(&seeker, nil, now); got != nil {
		t.Fatalf("SelectCandidate(nil) = %v, want nil", got)
	}
}
