package chat

import "sync"

// TranscriptEntry is one visible message in a materialized transcript.
type TranscriptEntry struct {
	ID      string
	From    string
	Content string
	Ts      int64 // unix milliseconds
}

// Transcript is a consumer-side materialized view of a session's messages.
// The feed delivers at least once with no cross-key ordering, so the
// transcript de-duplicates by message ID and keeps entries sorted by
// (timestamp, ID). It is goroutine-safe.
type Transcript struct {
	mu      sync.RWMutex
	seen    map[string]bool
	entries []TranscriptEntry
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{seen: make(map[string]bool)}
}

// Append inserts a message at its ordered position. Returns false if the
// message ID was already present (duplicate delivery).
func (t *Transcript) Append(entry TranscriptEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen[entry.ID] {
		return false
	}
	t.seen[entry.ID] = true

	// Messages almost always arrive in order; walk back from the tail to
	// find the insertion point for the rare straggler.
	i := len(t.entries)
	for i > 0 && less(entry, t.entries[i-1]) {
		i--
	}
	t.entries = append(t.entries, TranscriptEntry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry
	return true
}

// Hydrate seeds the transcript from a history snapshot. Entries already
// present are skipped, so hydrating after live deliveries have started does
// not duplicate.
func (t *Transcript) Hydrate(entries []TranscriptEntry) {
	for _, e := range entries {
		t.Append(e)
	}
}

// Entries returns a snapshot of the transcript in order.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of visible messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func less(a, b TranscriptEntry) bool {
	if a.Ts != b.Ts {
		return a.Ts < b.Ts
	}
	return a.ID < b.ID
}
