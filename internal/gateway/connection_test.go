package gateway

import (
	"net"
	"testing"
	"time"
)

func newTestConn(id string) *Connection {
	server, client := net.Pipe()
	// The client end is unused; closing it unblocks any stray writes.
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()
	return &Connection{ID: id, Conn: server, CreatedAt: time.Now()}
}

func TestConnection_SetSessionIdempotent(t *testing.T) {
	c := newTestConn("c1")
	defer c.Close()

	if !c.SetSession("s1") {
		t.Fatal("first SetSession returned false")
	}
	// The feed event for the same pairing arrives after the direct result;
	// the second application must be a no-op.
	if c.SetSession("s1") {
		t.Fatal("duplicate SetSession returned true")
	}
	if c.Session() != "s1" {
		t.Errorf("Session() = %q, want s1", c.Session())
	}
}

func TestConnection_ClearSession(t *testing.T) {
	c := newTestConn("c1")
	defer c.Close()

	c.SetSession("s1")

	// A stale ended event for a different session does not clear the binding.
	if c.ClearSession("other") {
		t.Fatal("ClearSession(other) returned true")
	}
	if c.Session() != "s1" {
		t.Errorf("Session() = %q after mismatched clear, want s1", c.Session())
	}

	if !c.ClearSession("s1") {
		t.Fatal("ClearSession(s1) returned false")
	}
	// Duplicate ended delivery.
	if c.ClearSession("s1") {
		t.Fatal("second ClearSession(s1) returned true")
	}
	if c.Session() != "" {
		t.Errorf("Session() = %q after clear, want empty", c.Session())
	}
}

func TestConnection_BindParticipant(t *testing.T) {
	c := newTestConn("c1")
	defer c.Close()

	if c.Participant() != "" {
		t.Fatalf("new connection has participant %q", c.Participant())
	}
	c.Bind("p1")
	if c.Participant() != "p1" {
		t.Errorf("Participant() = %q, want p1", c.Participant())
	}
}

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()
	c := newTestConn("c1")

	r.Add(c)
	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
	if r.Get("c1") != c {
		t.Fatal("Get(c1) did not return the connection")
	}

	if !r.Remove("c1") {
		t.Fatal("Remove(c1) returned false")
	}
	// Concurrent teardown paths race on removal; the loser must see false.
	if r.Remove("c1") {
		t.Fatal("second Remove(c1) returned true")
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d after remove, want 0", r.Count())
	}
}

func TestRegistry_All(t *testing.T) {
	r := NewRegistry()
	c1 := newTestConn("c1")
	c2 := newTestConn("c2")
	defer c1.Close()
	defer c2.Close()

	r.Add(c1)
	r.Add(c2)

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d connections, want 2", len(all))
	}
	seen := map[string]bool{}
	for _, c := range all {
		seen[c.ID] = true
	}
	if !seen["c1"] || !seen["c2"] {
		t.Errorf("All() missing connections: %v", seen)
	}
}
