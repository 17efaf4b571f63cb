package gateway

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is a single WebSocket client with its engine bindings. A
// connection starts anonymous; ParticipantID is set once start_seeking
// succeeds and SessionID tracks the currently bound session, if any.
type Connection struct {
	ID        string   // connection ID (UUID)
	Conn      net.Conn // underlying TCP connection
	CreatedAt time.Time

	mu            sync.Mutex // guards the engine bindings below
	participantID string
	sessionID     string

	writeMu      sync.Mutex // serializes outbound frames
	lastActivity time.Time  // last successful read, guarded by writeMu
}

// WriteMessage sends a WebSocket text frame. The write mutex keeps
// concurrent feed pushes and handler replies from interleaving frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Touch records read activity for the heartbeat monitor.
func (c *Connection) Touch() {
	c.writeMu.Lock()
	c.lastActivity = time.Now()
	c.writeMu.Unlock()
}

// LastActivity returns the time of the last successful read.
func (c *Connection) LastActivity() time.Time {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.lastActivity
}

// Bind records the participant created for this connection.
func (c *Connection) Bind(participantID string) {
	c.mu.Lock()
	c.participantID = participantID
	c.mu.Unlock()
}

// Participant returns the bound participant ID, empty if anonymous.
func (c *Connection) Participant() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantID
}

// SetSession records the currently bound session. Returns false when the
// session was already applied, so the direct pairing result and the feed
// notification converge on a single transition.
func (c *Connection) SetSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == sessionID {
		return false
	}
	c.sessionID = sessionID
	return true
}

// ClearSession drops the session binding if it matches. Returns false when
// the binding was already gone (duplicate ended events).
func (c *Connection) ClearSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != sessionID {
		return false
	}
	c.sessionID = ""
	return true
}

// Session returns the currently bound session ID, empty if none.
func (c *Connection) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Registry is a goroutine-safe map of live connections keyed by connection
// ID.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add registers a connection.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
}

// Remove removes and closes a connection. Returns true if it was present;
// false means another goroutine already cleaned it up.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if ok {
		c.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// All returns a snapshot of the current connections.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
