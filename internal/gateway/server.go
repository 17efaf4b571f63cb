// Package gateway is the WebSocket front door. It upgrades HTTP connections,
// translates protocol envelopes into engine operations, and bridges each
// client's change-feed subjects onto its connection.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/pairloop/chat-engine/internal/engine"
	"github.com/pairloop/chat-engine/internal/feed"
	"github.com/pairloop/chat-engine/internal/metrics"
)

// Config holds tunable parameters for the gateway.
type Config struct {
	ListenAddr     string
	MaxConnections int
	WriteTimeout   time.Duration
	PingInterval   time.Duration // how often idle connections are pinged
	IdleTimeout    time.Duration // max silence before a connection is dropped
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		MaxConnections: 10000,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		IdleTimeout:    90 * time.Second,
	}
}

// Server accepts WebSocket clients and runs one read goroutine per
// connection.
type Server struct {
	config     Config
	engine     *engine.Engine
	feed       *feed.Client
	conns      *Registry
	httpServer *http.Server
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a gateway over the given engine and feed client.
func NewServer(config Config, eng *engine.Engine, fc *feed.Client) *Server {
	return &Server{
		config: config,
		engine: eng,
		feed:   fc,
		conns:  NewRegistry(),
		done:   make(chan struct{}),
	}
}

// Start begins accepting connections and blocks until the listener closes.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	go s.monitorLoop()

	log.Printf("[gateway] listening on %s (max_conns=%d)",
		s.config.ListenAddr, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: http server: %w", err)
	}
	return nil
}

// handleUpgrade upgrades an HTTP request and starts the connection's read
// loop.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:        uuid.New().String(),
		Conn:      conn,
		CreatedAt: time.Now(),
	}
	c.Touch()

	s.conns.Add(c)
	metrics.GatewayConnections.Set(float64(s.conns.Count()))
	log.Printf("[gateway] connected conn=%s (total=%d)", c.ID, s.conns.Count())

	go s.readLoop(c)
}

// handleHealth reports connection count and uptime for load balancers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// readLoop reads frames until the connection errors or closes. Control
// frames are answered by wsutil internally; data frames go to the handler.
func (s *Server) readLoop(c *Connection) {
	defer s.removeConnection(c)

	for {
		data, op, err := wsutil.ReadClientData(c.Conn)
		if err != nil {
			return
		}
		c.Touch()

		if op != ws.OpText || len(data) == 0 {
			continue
		}
		s.handleMessage(c, data)
	}
}

// monitorLoop pings idle connections and evicts those silent past the idle
// timeout.
func (s *Server) monitorLoop() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			for _, c := range s.conns.All() {
				if now.Sub(c.LastActivity()) > s.config.IdleTimeout {
					log.Printf("[gateway] idle timeout conn=%s", c.ID)
					s.removeConnection(c)
					continue
				}
				if err := c.WritePing(); err != nil {
					s.removeConnection(c)
				}
			}
		}
	}
}

// removeConnection tears down a connection's feed subscriptions and drops it
// from the registry. The participant record outlives the connection; if the
// client never stops cleanly the reaper retires it.
func (s *Server) removeConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}

	if pid := c.Participant(); pid != "" {
		s.unsubscribeAll(pid)
	}

	metrics.GatewayConnections.Set(float64(s.conns.Count()))
	log.Printf("[gateway] disconnected conn=%s (total=%d)", c.ID, s.conns.Count())
}

func (s *Server) unsubscribeAll(participantID string) {
	_ = s.feed.UnsubscribeParticipantEvents(participantID)
	_ = s.feed.UnsubscribeSessionEvents(participantID)
	_ = s.feed.UnsubscribeChatMessages(participantID)
}

// send writes a server message to a connection with the configured write
// deadline.
func (s *Server) send(c *Connection, data []byte) {
	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if err := c.WriteMessage(data); err != nil {
		log.Printf("[gateway] write conn=%s: %v", c.ID, err)
	}
	_ = c.Conn.SetWriteDeadline(time.Time{})
}

// Shutdown stops the listener and closes all connections.
func (s *Server) Shutdown() error {
	log.Println("[gateway] shutting down...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("[gateway] http shutdown: %v", err)
	}

	for _, c := range s.conns.All() {
		s.removeConnection(c)
	}

	log.Println("[gateway] stopped")
	return nil
}

// opCtx returns a bounded context for engine calls made on behalf of a
// connection.
func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
