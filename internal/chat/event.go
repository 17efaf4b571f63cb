package chat

// MessageEvent is the payload published to chat.message.<session_id>
// subjects when a message is appended. Delivery is at-least-once; consumers
// de-duplicate by ID.
type MessageEvent struct {
	Type      string `json:"type"` // "message" or "typing"
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id"`
	From      string `json:"from"`
	Content   string `json:"content,omitempty"`
	IsTyping  bool   `json:"is_typing,omitempty"`
	Ts        int64  `json:"ts,omitempty"` // unix milliseconds
}
