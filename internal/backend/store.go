// Package backend is the reference chat backend: the REST surface the
// clients call, the websocket hub that fans out push events, and a canned
// automated responder. It backs the integration tests and local
// development; production deployments point the clients at the real
// storefront backend instead.
package backend

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Waito3007/SHNGear-sub002/internal/message"
)

// Session is one tracked support conversation.
type Session struct {
	ID           string    `json:"session_id"`
	GuestName    string    `json:"guest_name,omitempty"`
	GuestEmail   string    `json:"guest_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	LastMessage  string    `json:"last_message,omitempty"`
	Escalated    bool      `json:"escalated"`
	Closed       bool      `json:"closed"`
}

// Store keeps sessions and transcripts in memory, creation-ordered.
// Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	order    []string
	sessions map[string]*Session
	messages map[string][]message.Message
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		messages: make(map[string][]message.Message),
	}
}

// CreateSession provisions a session and returns it.
func (s *Store) CreateSession(guestName, guestEmail string, now time.Time) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		ID:           uuid.NewString(),
		GuestName:    guestName,
		GuestEmail:   guestEmail,
		CreatedAt:    now,
		LastActivity: now,
	}
	s.sessions[sess.ID] = sess
	s.order = append(s.order, sess.ID)
	return sess
}

// SetGuest backfills guest contact fields that are still empty. Later
// requests never overwrite what the session was created with.
func (s *Store) SetGuest(sessionID, guestName, guestEmail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if sess.GuestName == "" && guestName != "" {
		sess.GuestName = guestName
	}
	if sess.GuestEmail == "" && guestEmail != "" {
		sess.GuestEmail = guestEmail
	}
}

// Session returns one session by id.
func (s *Store) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	copied := *sess
	return &copied, true
}

// AppendMessage assigns a permanent id, persists the message and updates
// the session's activity row. Returns the stored copy.
func (s *Store) AppendMessage(msg message.Message) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[msg.SessionID]
	if !ok || sess.Closed {
		return message.Message{}, false
	}

	msg.ID = uuid.NewString()
	msg.Temporary = false
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)

	sess.LastMessage = msg.Content
	if msg.SentAt.After(sess.LastActivity) {
		sess.LastActivity = msg.SentAt
	}
	return msg, true
}

// Messages returns a session's transcript, oldest first.
func (s *Store) Messages(sessionID string) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.messages[sessionID]
	out := make([]message.Message, len(history))
	copy(out, history)
	return out
}

// Escalate marks a session as handed to a human. Returns false for
// unknown or closed sessions.
func (s *Store) Escalate(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Closed {
		return false
	}
	sess.Escalated = true
	return true
}

// Active lists open sessions in creation order.
func (s *Store) Active() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.order))
	for _, id := range s.order {
		sess := s.sessions[id]
		if sess.Closed {
			continue
		}
		out = append(out, *sess)
	}
	return out
}

// Close marks a session closed; it stops accepting messages and leaves
// the active listing.
func (s *Store) Close(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	sess.Closed = true
	return true
}
