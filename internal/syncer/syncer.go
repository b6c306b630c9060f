// Package syncer reconciles the optimistic local view of a conversation
// with the server-confirmed stream so each sent message appears exactly
// once, in stable chronological order.
package syncer

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/metrics"
)

// ChangeHandler observes the conversation after each mutation. It receives
// a fresh snapshot the caller may retain.
type ChangeHandler func(messages []message.Message)

// Synchronizer holds one session's ordered conversation. Safe for
// concurrent use.
type Synchronizer struct {
	logger zerolog.Logger

	mu      sync.Mutex
	entries []*entry
	nextSeq uint64
	// ids indexes confirmed permanent ids for O(1) duplicate checks.
	ids      map[string]struct{}
	onChange ChangeHandler
}

// entry pairs a message with its arrival sequence so equal timestamps
// keep arrival order across re-sorts.
type entry struct {
	msg message.Message
	seq uint64
}

// New creates an empty synchronizer.
func New(logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		logger: logger.With().Str("component", "syncer").Logger(),
		ids:    make(map[string]struct{}),
	}
}

// OnChange registers the conversation observer.
func (s *Synchronizer) OnChange(fn ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// AppendOptimistic inserts a not-yet-confirmed outbound message. The
// message must carry a TempID and is marked Temporary.
func (s *Synchronizer) AppendOptimistic(msg message.Message) {
	msg.Temporary = true

	s.mu.Lock()
	s.insert(msg)
	s.resort()
	snapshot, fn := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot, fn)
}

// Seed replaces the conversation with persisted history, oldest first.
// Used when loading a session transcript; optimistic state is discarded.
func (s *Synchronizer) Seed(history []message.Message) {
	s.mu.Lock()
	s.entries = s.entries[:0]
	s.ids = make(map[string]struct{})
	for _, msg := range history {
		s.insert(msg)
	}
	s.resort()
	snapshot, fn := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot, fn)
}

// AppendSystem inserts a local-only system notice. Notices carry no
// permanent id and never travel to the backend.
func (s *Synchronizer) AppendSystem(sessionID, content string, at time.Time) {
	notice := message.Message{
		SessionID: sessionID,
		Sender:    message.SenderSystem,
		Type:      message.TypeSystem,
		Content:   content,
		SentAt:    at,
	}

	s.mu.Lock()
	s.insert(notice)
	s.resort()
	snapshot, fn := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot, fn)
}

// Apply reconciles one server-delivered message into the conversation:
//
//  1. A message whose TempID matches an optimistic entry confirms it in
//     place.
//  2. Failing that, an optimistic entry from the same sender with the same
//     content sent within the match window is confirmed in place. Covers
//     confirmations that lost their correlation id.
//  3. A message whose permanent id is already present is dropped, as is
//     one that duplicates an existing confirmed entry (same sender and
//     content within the duplicate window). Covers redelivery after
//     reconnection.
//  4. Anything else is a genuinely new message and is appended.
//
// The conversation stays sorted by sent-at, ties resolved by arrival.
func (s *Synchronizer) Apply(msg message.Message) {
	msg.Temporary = false

	s.mu.Lock()

	if idx := s.matchOptimistic(&msg); idx >= 0 {
		seq := s.entries[idx].seq
		s.entries[idx] = &entry{msg: msg, seq: seq}
		if msg.ID != "" {
			s.ids[msg.ID] = struct{}{}
		}
		metrics.MessagesReconciled.Inc()
		s.resort()
		snapshot, fn := s.snapshotLocked()
		s.mu.Unlock()
		s.notify(snapshot, fn)
		return
	}

	if s.isDuplicate(&msg) {
		metrics.DuplicatesDropped.Inc()
		s.mu.Unlock()
		s.logger.Debug().Str("id", msg.ID).Msg("Dropped duplicate message delivery")
		return
	}

	s.insert(msg)
	s.resort()
	snapshot, fn := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot, fn)
}

// Fail converts the optimistic entry for tempID into a local delivery
// failure notice. No-op when the entry was already confirmed or removed.
func (s *Synchronizer) Fail(tempID string) {
	s.mu.Lock()
	idx := -1
	for i, e := range s.entries {
		if e.msg.Temporary && e.msg.TempID == tempID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}

	failed := s.entries[idx].msg
	notice := message.Message{
		TempID:    failed.TempID,
		SessionID: failed.SessionID,
		Sender:    message.SenderSystem,
		Type:      message.TypeSystem,
		Content:   "Message could not be delivered. Please try again.",
		SentAt:    failed.SentAt,
	}
	s.entries[idx] = &entry{msg: notice, seq: s.entries[idx].seq}
	snapshot, fn := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot, fn)
}

// Snapshot returns a copy of the conversation in display order.
func (s *Synchronizer) Snapshot() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}

// Len returns the number of entries in the conversation.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// matchOptimistic finds the optimistic entry the confirmed message
// corresponds to, preferring the correlation id over the content
// heuristic. Returns -1 when nothing matches.
func (s *Synchronizer) matchOptimistic(msg *message.Message) int {
	if msg.TempID != "" {
		for i, e := range s.entries {
			if e.msg.Temporary && e.msg.TempID == msg.TempID {
				return i
			}
		}
	}

	for i, e := range s.entries {
		if !e.msg.Temporary {
			continue
		}
		if e.msg.Sender != msg.Sender || e.msg.Content != msg.Content {
			continue
		}
		if absDuration(msg.SentAt.Sub(e.msg.SentAt)) <= constants.OptimisticMatchWindow {
			return i
		}
	}
	return -1
}

// isDuplicate reports whether the confirmed message is a redelivery of an
// entry already present.
func (s *Synchronizer) isDuplicate(msg *message.Message) bool {
	if msg.ID != "" {
		if _, ok := s.ids[msg.ID]; ok {
			return true
		}
	}

	for _, e := range s.entries {
		if e.msg.Temporary {
			continue
		}
		if e.msg.Sender != msg.Sender || e.msg.Content != msg.Content {
			continue
		}
		if absDuration(msg.SentAt.Sub(e.msg.SentAt)) <= constants.DuplicateWindow {
			return true
		}
	}
	return false
}

func (s *Synchronizer) insert(msg message.Message) {
	s.nextSeq++
	s.entries = append(s.entries, &entry{msg: msg, seq: s.nextSeq})
	if !msg.Temporary && msg.ID != "" {
		s.ids[msg.ID] = struct{}{}
	}
}

func (s *Synchronizer) resort() {
	sort.Slice(s.entries, func(i, j int) bool {
		a, b := s.entries[i], s.entries[j]
		if a.msg.SentAt.Equal(b.msg.SentAt) {
			return a.seq < b.seq
		}
		return a.msg.SentAt.Before(b.msg.SentAt)
	})
}

func (s *Synchronizer) snapshotLocked() ([]message.Message, ChangeHandler) {
	if s.onChange == nil {
		return nil, nil
	}
	out := make([]message.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out, s.onChange
}

func (s *Synchronizer) notify(snapshot []message.Message, fn ChangeHandler) {
	if fn != nil {
		fn(snapshot)
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
