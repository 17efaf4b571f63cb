// Package feed provides the NATS-backed change feed shared by the engine and
// its consumers. Events are keyed per participant and per session; delivery
// is at-least-once with ordering guaranteed within a single subject, so
// consumers de-duplicate by event identifier.
package feed

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject families. Per-entity subjects append ".<id>".
const (
	SubjectSeekRequest       = "seek.request"
	SubjectSeekCancel        = "seek.cancel"
	SubjectParticipantEvents = "participant.events" // + .<participant_id>
	SubjectSessionEvents     = "session.events"     // + .<session_id>
	SubjectChatMessage       = "chat.message"       // + .<session_id>
)

// Client wraps the NATS connection with helpers for the engine's subjects.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "pairloop",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Connect establishes the NATS connection and returns a ready client.
func Connect(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[feed] disconnected: %v", err)
			} else {
				log.Printf("[feed] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[feed] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[feed] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("feed: connect: %w", err)
	}

	log.Printf("[feed] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for a subject and tracks the subscription
// under the given key for later removal. Subscribing twice with the same key
// replaces the previous subscription.
func (c *Client) Subscribe(key, subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if prev, ok := c.subs[key]; ok {
		_ = prev.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes the subscription tracked under key.
func (c *Client) Unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("feed: no subscription for key %s", key)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("feed: unsubscribe %s: %w", key, err)
	}
	return nil
}

// PublishParticipantEvent publishes to a participant's event subject.
func (c *Client) PublishParticipantEvent(participantID string, data []byte) error {
	return c.Publish(SubjectParticipantEvents+"."+participantID, data)
}

// SubscribeParticipantEvents subscribes to a participant's event subject.
func (c *Client) SubscribeParticipantEvents(participantID string, handler func(data []byte)) error {
	subject := SubjectParticipantEvents + "." + participantID
	return c.Subscribe(subject, subject, handler)
}

// UnsubscribeParticipantEvents drops a participant-event subscription.
func (c *Client) UnsubscribeParticipantEvents(participantID string) error {
	return c.Unsubscribe(SubjectParticipantEvents + "." + participantID)
}

// PublishSessionEvent publishes to a session's lifecycle subject.
func (c *Client) PublishSessionEvent(sessionID string, data []byte) error {
	return c.Publish(SubjectSessionEvents+"."+sessionID, data)
}

// SubscribeSessionEvents subscribes to a session's lifecycle subject. The
// subscriberID keys the subscription so both parties on one process can
// subscribe to the same session independently.
func (c *Client) SubscribeSessionEvents(sessionID, subscriberID string, handler func(data []byte)) error {
	subject := SubjectSessionEvents + "." + sessionID
	return c.Subscribe("sessionsub:"+subscriberID, subject, handler)
}

// UnsubscribeSessionEvents drops a subscriber's session-event subscription.
func (c *Client) UnsubscribeSessionEvents(subscriberID string) error {
	return c.Unsubscribe("sessionsub:" + subscriberID)
}

// PublishChatMessage publishes a message event to a session's chat subject.
func (c *Client) PublishChatMessage(sessionID string, data []byte) error {
	return c.Publish(SubjectChatMessage+"."+sessionID, data)
}

// SubscribeChatMessages subscribes to a session's chat subject, keyed by
// subscriber.
func (c *Client) SubscribeChatMessages(sessionID, subscriberID string, handler func(data []byte)) error {
	subject := SubjectChatMessage + "." + sessionID
	return c.Subscribe("chatsub:"+subscriberID, subject, handler)
}

// UnsubscribeChatMessages drops a subscriber's chat subscription.
func (c *Client) UnsubscribeChatMessages(subscriberID string) error {
	return c.Unsubscribe("chatsub:" + subscriberID)
}

// PublishSeekRequest publishes a seek command for the matcher service.
func (c *Client) PublishSeekRequest(data []byte) error {
	return c.Publish(SubjectSeekRequest, data)
}

// SubscribeSeekRequests subscribes to seek commands.
func (c *Client) SubscribeSeekRequests(handler func(data []byte)) error {
	return c.Subscribe(SubjectSeekRequest, SubjectSeekRequest, handler)
}

// PublishSeekCancel publishes a seek cancellation.
func (c *Client) PublishSeekCancel(data []byte) error {
	return c.Publish(SubjectSeekCancel, data)
}

// SubscribeSeekCancels subscribes to seek cancellations.
func (c *Client) SubscribeSeekCancels(handler func(data []byte)) error {
	return c.Subscribe(SubjectSeekCancel, SubjectSeekCancel, handler)
}

// Close drains all subscriptions and the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[feed] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[feed] connection drain: %v", err)
	}

	log.Printf("[feed] client closed")
}
