package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseClientMessage_StartSeeking(t *testing.T) {
	data := []byte(`{"type":"start_seeking","name":"Alex","gender":"male","preferred_gender":"any","mode":"text"}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("ParseClientMessage() error: %v", err)
	}
	if msgType != TypeStartSeeking {
		t.Errorf("type = %q, want %q", msgType, TypeStartSeeking)
	}
	m, ok := msg.(StartSeekingMsg)
	if !ok {
		t.Fatalf("msg is %T, want StartSeekingMsg", msg)
	}
	if m.Name != "Alex" || m.Gender != "male" || m.PreferredGender != "any" || m.Mode != "text" {
		t.Errorf("unexpected fields: %+v", m)
	}
}

func TestParseClientMessage_ChatWithIdempotencyKey(t *testing.T) {
	data := []byte(`{"type":"message","session_id":"s1","content":"hi","idempotency_key":"k1"}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("ParseClientMessage() error: %v", err)
	}
	if msgType != TypeMessage {
		t.Errorf("type = %q, want %q", msgType, TypeMessage)
	}
	m := msg.(ChatMsg)
	if m.SessionID != "s1" || m.Content != "hi" || m.IdempotencyKey != "k1" {
		t.Errorf("unexpected fields: %+v", m)
	}
}

func TestParseClientMessage_AllTypes(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"typing", `{"type":"typing","session_id":"s1","is_typing":true}`, TypeTyping},
		{"skip", `{"type":"skip","session_id":"s1"}`, TypeSkip},
		{"stop", `{"type":"stop"}`, TypeStop},
		{"heartbeat", `{"type":"heartbeat"}`, TypeHeartbeat},
		{"history", `{"type":"history","session_id":"s1"}`, TypeHistory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tt.data))
			if err != nil {
				t.Fatalf("ParseClientMessage() error: %v", err)
			}
			if msgType != tt.want {
				t.Errorf("type = %q, want %q", msgType, tt.want)
			}
			if msg == nil {
				t.Error("msg is nil")
			}
		})
	}
}

func TestParseClientMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `not json`},
		{"missing type", `{"session_id":"s1"}`},
		{"empty type", `{"type":""}`},
		{"unknown type", `{"type":"bogus"}`},
		{"server-only type", `{"type":"matched"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseClientMessage([]byte(tt.data)); err == nil {
				t.Errorf("ParseClientMessage(%q) succeeded, want error", tt.data)
			}
		})
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeMatched, MatchedMsg{
		SessionID:   "s1",
		PartnerName: "Sam",
		Mode:        "text",
	})
	if err != nil {
		t.Fatalf("NewServerMessage() error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeMatched {
		t.Errorf("type = %v, want %q", m["type"], TypeMatched)
	}
	if m["session_id"] != "s1" || m["partner_name"] != "Sam" {
		t.Errorf("unexpected payload: %v", m)
	}
}

func TestNewServerMessage_RoundTripThroughEnvelope(t *testing.T) {
	data, err := NewServerMessage(TypeError, ErrorMsg{Code: "invalid_content", Message: "too long"})
	if err != nil {
		t.Fatalf("NewServerMessage() error: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != TypeError {
		t.Errorf("envelope type = %q, want %q", env.Type, TypeError)
	}

	var em ErrorMsg
	if err := json.Unmarshal(env.Raw, &em); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if em.Code != "invalid_content" {
		t.Errorf("code = %q, want invalid_content", em.Code)
	}
}
