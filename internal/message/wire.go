package message

import (
	"encoding/json"
	"fmt"
)

// FrameKind discriminates realtime channel frames
type FrameKind string

const (
	FrameInvoke FrameKind = "invoke"
	FrameResult FrameKind = "result"
	FrameEvent  FrameKind = "event"
)

// Frame is the envelope exchanged over the realtime channel.
//
// Client → server: invoke frames carrying a correlation ID, a target
// method and JSON-encoded arguments.
// Server → client: result frames echoing the correlation ID, and event
// frames carrying a named push event.
type Frame struct {
	Kind   FrameKind       `json:"kind"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Event is the tagged union of inbound push events. Exactly one field is
// non-nil; a switch over the concrete payload type is exhaustive over the
// events this core consumes.
type Event struct {
	Name string

	MessageReceived  *Message
	TypingIndicator  *TypingState
	SessionEscalated *EscalatedEvent
	AdminJoined      *AdminJoinedEvent
	Reconnected      *ReconnectedEvent
}

// ConnectedEvent is the first frame the server pushes after an upgrade
// and carries the connection id the client echoes in diagnostics.
type ConnectedEvent struct {
	ConnectionID string `json:"connection_id"`
}

// EscalatedEvent notifies that the backend accepted a hand-off.
type EscalatedEvent struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// AdminJoinedEvent notifies that a human agent joined the session.
type AdminJoinedEvent struct {
	SessionID string `json:"session_id"`
	AdminID   string `json:"admin_id"`
	AdminName string `json:"admin_name,omitempty"`
}

// ReconnectedEvent is the locally-emitted recovery notification. The
// connection id is the newly negotiated one.
type ReconnectedEvent struct {
	ConnectionID string `json:"connection_id"`
}

// DecodeEvent parses an event frame into the typed union.
// Unknown event names return an error rather than a silent drop so the
// dispatcher can log them.
func DecodeEvent(name string, data json.RawMessage) (*Event, error) {
	ev := &Event{Name: name}

	switch name {
	case "message-received":
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		ev.MessageReceived = &m
	case "typing-indicator":
		var t TypingState
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		ev.TypingIndicator = &t
	case "session-escalated":
		var e EscalatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		ev.SessionEscalated = &e
	case "admin-joined":
		var a AdminJoinedEvent
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		ev.AdminJoined = &a
	case "reconnected":
		var r ReconnectedEvent
		if len(data) > 0 {
			if err := json.Unmarshal(data, &r); err != nil {
				return nil, fmt.Errorf("decode %s: %w", name, err)
			}
		}
		ev.Reconnected = &r
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}

	return ev, nil
}
