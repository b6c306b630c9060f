// Package message defines the chat message model shared by the visitor
// widget, the admin console, and the realtime wire protocol.
package message

import (
	"encoding/json"
	"time"
)

// SenderRole represents who authored a message
type SenderRole string

const (
	SenderUser   SenderRole = "user"
	SenderAdmin  SenderRole = "admin"
	SenderSystem SenderRole = "system"
	SenderAI     SenderRole = "ai"
)

// Type represents the kind of message
type Type string

const (
	TypeText                  Type = "text"
	TypeSystem                Type = "system"
	TypeProductRecommendation Type = "product_recommendation"
)

// Message represents one entry in a session's conversation.
//
// An optimistic entry carries a client-generated TempID and Temporary=true
// until the matching server-confirmed copy arrives, at which point the
// permanent ID replaces it and Temporary is cleared, exactly once.
type Message struct {
	ID        string            `json:"id,omitempty"`
	TempID    string            `json:"temp_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Sender    SenderRole        `json:"sender"`
	Type      Type              `json:"type"`
	Content   string            `json:"content"`
	SentAt    time.Time         `json:"sent_at"`
	Temporary bool              `json:"temporary,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// AI response signals consumed by the escalation controller.
	Confidence float64 `json:"confidence,omitempty"`
	NeedsHuman bool    `json:"needs_human,omitempty"`
}

// Confirmed reports whether the message has a server-assigned id.
func (m *Message) Confirmed() bool {
	return !m.Temporary && m.ID != ""
}

// MarshalJSON implements custom JSON marshaling with RFC3339 timestamps
func (m *Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	return json.Marshal(&struct {
		*Alias
		SentAt string `json:"sent_at"`
	}{
		Alias:  (*Alias)(m),
		SentAt: m.SentAt.Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling with RFC3339 timestamps
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := &struct {
		*Alias
		SentAt string `json:"sent_at"`
	}{
		Alias: (*Alias)(m),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.SentAt != "" {
		t, err := time.Parse(time.RFC3339Nano, aux.SentAt)
		if err != nil {
			return err
		}
		m.SentAt = t
	}

	return nil
}

// TypingState is the ephemeral per-counterpart composing indicator.
// It is owned by the typing coordinator and never persisted.
type TypingState struct {
	SessionID string     `json:"session_id"`
	Sender    SenderRole `json:"sender"`
	Typing    bool       `json:"typing"`
	ExpiresAt time.Time  `json:"-"`
}

// EscalationRequest asks the backend to hand a conversation to a human.
type EscalationRequest struct {
	SessionID   string    `json:"session_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}
