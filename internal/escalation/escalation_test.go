package escalation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	chaterrors "github.com/Waito3007/SHNGear-sub002/internal/errors"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/rest"
	"github.com/Waito3007/SHNGear-sub002/internal/syncer"
	"github.com/Waito3007/SHNGear-sub002/internal/testutil"
)

// escalateRecorder is a minimal backend accepting escalate calls.
type escalateRecorder struct {
	mu       sync.Mutex
	calls    []string // reasons, in order
	rejectN  int      // first N calls fail with 500
	received chan struct{}
}

func newEscalateRecorder() *escalateRecorder {
	return &escalateRecorder{received: make(chan struct{}, 16)}
}

func (r *escalateRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !strings.HasSuffix(req.URL.Path, "/escalate") {
			http.NotFound(w, req)
			return
		}

		var body struct {
			Reason string `json:"reason"`
		}
		json.NewDecoder(req.Body).Decode(&body)

		r.mu.Lock()
		reject := r.rejectN > 0
		if reject {
			r.rejectN--
		} else {
			r.calls = append(r.calls, body.Reason)
		}
		r.mu.Unlock()

		if reject {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "temporarily unavailable"})
		} else {
			json.NewEncoder(w).Encode(map[string]string{"status": "escalated"})
		}
		r.received <- struct{}{}
	})
}

func (r *escalateRecorder) reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *escalateRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for escalate call")
	}
}

func newTestController(t *testing.T) (*Controller, *syncer.Synchronizer, *escalateRecorder) {
	t.Helper()

	rec := newEscalateRecorder()
	srv := httptest.NewServer(rec.handler())
	t.Cleanup(srv.Close)

	logger := testutil.Logger()
	conv := syncer.New(logger)
	api := rest.NewClient(srv.URL, constants.DefaultPathPrefix, logger)
	return NewController(api, conv, logger), conv, rec
}

// systemNotices filters a snapshot down to locally injected notices.
func systemNotices(conv *syncer.Synchronizer) []message.Message {
	var out []message.Message
	for _, m := range conv.Snapshot() {
		if m.Sender == message.SenderSystem {
			out = append(out, m)
		}
	}
	return out
}

func aiMessage(id string, confidence float64, needsHuman bool) *message.Message {
	return &message.Message{
		ID:         id,
		SessionID:  "s-1",
		Sender:     message.SenderAI,
		Type:       message.TypeText,
		Content:    "canned reply",
		SentAt:     time.Now(),
		Confidence: confidence,
		NeedsHuman: needsHuman,
	}
}

func TestManualRequest(t *testing.T) {
	c, conv, rec := newTestController(t)

	require.NoError(t, c.Request(context.Background(), "s-1", "I want a person"))
	assert.True(t, c.Escalated())
	assert.Equal(t, []string{"I want a person"}, rec.reasons())

	// A successful hand-off tells the visitor a human is on the way.
	notices := systemNotices(conv)
	require.Len(t, notices, 1)
	assert.Equal(t, message.TypeSystem, notices[0].Type)
	assert.Contains(t, notices[0].Content, "human agent")
}

func TestManualRequestDefaultsReason(t *testing.T) {
	c, _, rec := newTestController(t)

	require.NoError(t, c.Request(context.Background(), "s-1", "   "))
	require.Len(t, rec.reasons(), 1)
	assert.NotEmpty(t, rec.reasons()[0])
}

func TestManualRequestValidation(t *testing.T) {
	c, _, _ := newTestController(t)

	err := c.Request(context.Background(), "", "help")
	var chatErr *chaterrors.ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, chaterrors.ErrCodeNoActiveSession, chatErr.Code)

	err = c.Request(context.Background(), "s-1", strings.Repeat("x", constants.MaxReasonLength+1))
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, chaterrors.ErrCodeInvalidInput, chatErr.Code)
}

func TestLowConfidenceAutoEscalates(t *testing.T) {
	c, conv, rec := newTestController(t)

	c.Observe(aiMessage("m-1", 0.2, false))
	rec.wait(t)

	require.Eventually(t, c.Escalated, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, rec.reasons(), 1)

	require.Eventually(t, func() bool {
		return len(systemNotices(conv)) == 1
	}, 2*time.Second, 5*time.Millisecond, "auto hand-off also notifies the visitor")
}

func TestNeedsHumanAutoEscalates(t *testing.T) {
	c, _, rec := newTestController(t)

	c.Observe(aiMessage("m-1", 0.95, true))
	rec.wait(t)

	require.Eventually(t, c.Escalated, 2*time.Second, 5*time.Millisecond)
}

func TestConfidentResponseDoesNotEscalate(t *testing.T) {
	c, _, rec := newTestController(t)

	c.Observe(aiMessage("m-1", 0.9, false))
	c.Observe(aiMessage("m-2", constants.ConfidenceThreshold, false)) // at threshold, not below

	time.Sleep(50 * time.Millisecond)
	assert.False(t, c.Escalated())
	assert.Empty(t, rec.reasons())
}

func TestNonAIMessagesIgnored(t *testing.T) {
	c, _, rec := newTestController(t)

	msg := aiMessage("m-1", 0.1, true)
	msg.Sender = message.SenderAdmin
	c.Observe(msg)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.reasons())
}

func TestRedeliveryDoesNotEscalateTwice(t *testing.T) {
	c, _, rec := newTestController(t)

	c.Observe(aiMessage("m-1", 0.2, false))
	rec.wait(t)
	require.Eventually(t, c.Escalated, 2*time.Second, 5*time.Millisecond)

	// The same message delivered again after reconnection.
	c.Observe(aiMessage("m-1", 0.2, false))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.reasons(), 1, "one qualifying message escalates at most once")
}

func TestFailedAttemptRetriesOnRedelivery(t *testing.T) {
	c, conv, rec := newTestController(t)
	rec.rejectN = 1

	c.Observe(aiMessage("m-1", 0.2, false))
	rec.wait(t)
	assert.False(t, c.Escalated(), "failed hand-off must not set the guard")
	assert.Empty(t, systemNotices(conv), "no notice until the backend accepts")

	// Redelivery retries until the backend accepts.
	require.Eventually(t, func() bool {
		c.Observe(aiMessage("m-1", 0.2, false))
		return c.Escalated()
	}, 2*time.Second, 20*time.Millisecond)
	assert.Len(t, rec.reasons(), 1)
}

func TestNoFurtherAttemptsOnceEscalated(t *testing.T) {
	c, _, rec := newTestController(t)

	c.MarkEscalated()
	c.Observe(aiMessage("m-1", 0.1, true))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.reasons())
}
