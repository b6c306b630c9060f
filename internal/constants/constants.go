// Package constants provides centralized constant definitions for the chat core.
// This eliminates magic numbers and strings throughout the codebase.
package constants

import "time"

// Timing for the realtime synchronization core
const (
	// TypingWindow bounds outbound typing signals to one per window and is
	// also the auto-expiry for a remote typing indicator with no refresh.
	TypingWindow = 3 * time.Second

	// OptimisticMatchWindow is how long after an optimistic insert a
	// server-confirmed message may still replace it in place.
	OptimisticMatchWindow = 1 * time.Second

	// DuplicateWindow is the ± tolerance used when equal sender+content
	// messages are treated as the same delivery.
	DuplicateWindow = 1 * time.Second

	// SessionRefreshInterval is how often the admin console polls the
	// active-session listing.
	SessionRefreshInterval = 30 * time.Second
)

// ReconnectSchedule is the fixed backoff between reconnection attempts:
// immediate, then 2s, 10s, 30s, repeating at 30s thereafter.
var ReconnectSchedule = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// Escalation
const (
	// ConfidenceThreshold is the automated-response confidence below which
	// the conversation is handed to a human.
	ConfidenceThreshold = 0.4
)

// WebSocket connection lifecycle
const (
	PongWait   = 60 * time.Second
	PingPeriod = (PongWait * 9) / 10
	WriteWait  = 10 * time.Second

	DefaultMaxMessageSize = 1048576 // 1MB per frame
	SendBufferSize        = 256
)

// REST boundary
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultHistoryLimit   = 200
)

// HTTP server timeouts for the reference backend
const (
	HTTPReadTimeout  = 15 * time.Second
	HTTPWriteTimeout = 60 * time.Second
	HTTPIdleTimeout  = 120 * time.Second
	ShutdownTimeout  = 10 * time.Second
)

// Remote operations invoked over the realtime channel
const (
	MethodJoinSession  = "join-session"
	MethodLeaveSession = "leave-session"
	MethodSendMessage  = "send-message"
	MethodSendTyping   = "send-typing"
)

// Server-pushed event names
const (
	// EventConnected is the first frame after a successful upgrade and
	// carries the server-assigned connection id.
	EventConnected        = "connected"
	EventMessageReceived  = "message-received"
	EventTypingIndicator  = "typing-indicator"
	EventSessionEscalated = "session-escalated"
	EventAdminJoined      = "admin-joined"

	// EventReconnected is emitted locally by the connection manager after a
	// successful recovery so higher layers can re-join session membership.
	EventReconnected = "reconnected"
)

// Role names for authorization
const (
	RoleAdmin     = "admin"
	RoleChatAgent = "chat_agent"
)

// Default configuration values
const (
	DefaultBackendURL = "http://localhost:8080"
	DefaultPort       = 8080
	DefaultLogLevel   = "info"
	DefaultPathPrefix = "/chat"
)

// Minimum security requirements
const (
	MinJWTSecretLength = 32 // 256 bits
)

// Weak secrets rejected at startup
var WeakSecrets = []string{
	"secret", "test", "test123", "password", "admin",
	"changeme", "default", "example", "demo", "12345",
	"placeholder",
}

// Limits for user-supplied fields
const (
	MaxContentLength    = 4000
	MaxGuestNameLength  = 100
	MaxGuestEmailLength = 254
	MaxReasonLength     = 500
)
