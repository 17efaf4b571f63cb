package presence

import (
	"testing"
	"time"
)

func TestIsLive(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		lastSeen time.Time
		want     bool
	}{
		{"just seen", now, true},
		{"within threshold", now.Add(-LivenessThreshold / 2), true},
		{"exactly at threshold", now.Add(-LivenessThreshold), true},
		{"just past threshold", now.Add(-LivenessThreshold - time.Millisecond), false},
		{"long gone", now.Add(-time.Hour), false},
		{"future timestamp", now.Add(time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLive(tt.lastSeen, LivenessThreshold, now); got != tt.want {
				t.Errorf("IsLive(%v) = %v, want %v", now.Sub(tt.lastSeen), got, tt.want)
			}
		})
	}
}

func TestThresholdToleratesOneMissedBeat(t *testing.T) {
	// One missed heartbeat leaves the last beat one interval old — still live.
	// Two missed beats put it past the threshold.
	now := time.Now()

	oneMissed := now.Add(-HeartbeatInterval)
	if !IsLive(oneMissed, LivenessThreshold, now) {
		t.Error("one missed beat should still be live")
	}

	twoMissed := now.Add(-2*HeartbeatInterval - time.Second)
	if IsLive(twoMissed, LivenessThreshold, now) {
		t.Error("two missed beats should be offline")
	}
}
