package chat

import (
	"sync"
	"testing"
)

func entry(id string, ts int64) TranscriptEntry {
	return TranscriptEntry{ID: id, From: "p1", Content: "msg " + id, Ts: ts}
}

func assertOrder(t *testing.T, tr *Transcript, want ...string) {
	t.Helper()
	got := tr.Entries()
	if len(got) != len(want) {
		t.Fatalf("transcript has %d entries, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("entries[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestTranscript_AppendInOrder(t *testing.T) {
	tr := NewTranscript()
	for _, e := range []TranscriptEntry{entry("a", 1), entry("b", 2), entry("c", 3)} {
		if !tr.Append(e) {
			t.Fatalf("Append(%s) = false, want true", e.ID)
		}
	}
	assertOrder(t, tr, "a", "b", "c")
}

func TestTranscript_DuplicateDropped(t *testing.T) {
	tr := NewTranscript()
	tr.Append(entry("a", 1))
	tr.Append(entry("b", 2))

	// At-least-once delivery: the same ID arrives again.
	if tr.Append(entry("a", 1)) {
		t.Fatal("duplicate Append returned true")
	}
	if tr.Len() != 2 {
		t.Fatalf("Len() = %d after duplicate, want 2", tr.Len())
	}
}

func TestTranscript_StragglerInserted(t *testing.T) {
	tr := NewTranscript()
	tr.Append(entry("a", 1))
	tr.Append(entry("c", 3))
	tr.Append(entry("d", 4))

	// A delayed delivery lands at its timestamp position, not at the tail.
	tr.Append(entry("b", 2))
	assertOrder(t, tr, "a", "b", "c", "d")
}

func TestTranscript_SameTimestampOrderedByID(t *testing.T) {
	tr := NewTranscript()
	tr.Append(entry("m2", 5))
	tr.Append(entry("m1", 5))
	tr.Append(entry("m3", 5))
	assertOrder(t, tr, "m1", "m2", "m3")
}

func TestTranscript_HydrateAfterLiveDeliveries(t *testing.T) {
	tr := NewTranscript()

	// Live deliveries arrive first.
	tr.Append(entry("c", 3))
	tr.Append(entry("d", 4))

	// History snapshot overlaps with what already arrived.
	tr.Hydrate([]TranscriptEntry{entry("a", 1), entry("b", 2), entry("c", 3)})

	assertOrder(t, tr, "a", "b", "c", "d")
}

func TestTranscript_ConcurrentAppend(t *testing.T) {
	tr := NewTranscript()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Every goroutine delivers the same 50 messages; each must be
			// recorded exactly once.
			for i := 0; i < 50; i++ {
				tr.Append(entry(string(rune('a'+i%26))+string(rune('0'+i/26)), int64(i)))
			}
		}()
	}
	wg.Wait()

	if tr.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", tr.Len())
	}
	entries := tr.Entries()
	for i := 1; i < len(entries); i++ {
		if entries[i].Ts < entries[i-1].Ts {
			t.Fatalf("entries out of order at %d: %d < %d", i, entries[i].Ts, entries[i-1].Ts)
		}
	}
}
