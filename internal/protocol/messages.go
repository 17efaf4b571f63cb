// Package protocol defines the WebSocket message types exchanged between
// clients and the gateway. All messages are JSON with a consistent envelope
// carrying a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> Server message types.
const (
	TypeStartSeeking = "start_seeking"
	TypeMessage      = "message"
	TypeTyping       = "typing"
	TypeSkip         = "skip"
	TypeStop         = "stop"
	TypeHeartbeat    = "heartbeat"
	TypeHistory      = "history"
)

// Server -> Client message types.
const (
	TypeSeeking      = "seeking"
	TypeMatched      = "matched"
	TypeChatMessage  = "chat_message"
	TypeChatTyping   = "chat_typing"
	TypeSessionEnded = "session_ended"
	TypeStopped      = "stopped"
	TypeHeartbeatAck = "heartbeat_ack"
	TypeChatHistory  = "chat_history"
	TypeError        = "error"
)

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the payload can be decoded later into the appropriate struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// StartSeekingMsg declares the client's identity and enters the pool.
type StartSeekingMsg struct {
	Type            string `json:"type"`
	Name            string `json:"name"`
	Gender          string `json:"gender"`
	PreferredGender string `json:"preferred_gender"`
	Mode            string `json:"mode,omitempty"`
}

// ChatMsg is a text message sent by the client within a session.
type ChatMsg struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// TypingMsg indicates whether the client is currently typing.
type TypingMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	IsTyping  bool   `json:"is_typing"`
}

// SkipMsg ends the current session and immediately re-enters search.
type SkipMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// StopMsg is the terminal exit.
type StopMsg struct {
	Type string `json:"type"`
}

// HeartbeatMsg is the client's periodic liveness beat.
type HeartbeatMsg struct {
	Type string `json:"type"`
}

// HistoryMsg requests the ordered message sequence of a session, typically to
// rehydrate after a transient network drop.
type HistoryMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SeekingMsg confirms the client is registered and in the pool.
type SeekingMsg struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participant_id"`
}

// MatchedMsg announces a bound session.
type MatchedMsg struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	PartnerName string `json:"partner_name"`
	Mode        string `json:"mode"`
}

// ServerChatMsg relays a partner's message, and is also echoed to the sender
// as the delivery acknowledgement. ID is the message identifier clients
// de-duplicate on.
type ServerChatMsg struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	From    string `json:"from"` // "you" or "partner"
	Content string `json:"content"`
	Ts      int64  `json:"ts"`
}

// ServerTypingMsg relays the partner's typing indicator.
type ServerTypingMsg struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// SessionEndedMsg tells the client its session reached the terminal state.
type SessionEndedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"` // "skip", "stop", "reaped"
}

// StoppedMsg acknowledges a terminal stop.
type StoppedMsg struct {
	Type string `json:"type"`
}

// HeartbeatAckMsg acknowledges a heartbeat.
type HeartbeatAckMsg struct {
	Type string `json:"type"`
}

// HistoryEntry is one message in a chat_history response, ordered oldest
// first.
type HistoryEntry struct {
	ID      string `json:"id"`
	From    string `json:"from"` // "you" or "partner"
	Content string `json:"content"`
	Ts      int64  `json:"ts"`
}

// ChatHistoryMsg carries a session's full ordered message sequence.
type ChatHistoryMsg struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Messages  []HistoryEntry `json:"messages"`
}

// ErrorMsg communicates an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type, the decoded struct, and any parse error. An
// error is returned for unknown or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeStartSeeking:
		var m StartSeekingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSkip:
		var m SkipMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStop:
		var m StopMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHeartbeat:
		var m HeartbeatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHistory:
		var m HistoryMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates the JSON bytes for a server message, injecting
// msgType under the "type" key of the marshalled payload.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal server message: %w", err)
	}
	return out, nil
}
