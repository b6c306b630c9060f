package backend

import (
	"strings"

	"github.com/Waito3007/SHNGear-sub002/internal/message"
)

// Responder produces canned automated replies to visitor messages,
// carrying the confidence metadata the clients use for escalation
// decisions. It stands in for the storefront's real AI stack.
type Responder struct {
	service *Service
}

// NewResponder creates a responder posting through service.
func NewResponder(service *Service) *Responder {
	return &Responder{service: service}
}

// lowConfidenceTerms mark questions the responder cannot help with.
var lowConfidenceTerms = []string{
	"human", "agent", "person", "refund", "complaint", "broken", "cancel order",
}

// Respond posts one automated reply to a visitor message. The reply is
// persisted and pushed like any other message.
func (r *Responder) Respond(userMsg message.Message) {
	content, confidence, needsHuman := r.compose(userMsg.Content)

	reply := message.Message{
		SessionID:  userMsg.SessionID,
		Sender:     message.SenderAI,
		Type:       message.TypeText,
		Content:    content,
		SentAt:     r.service.clock.Now(),
		Confidence: confidence,
		NeedsHuman: needsHuman,
	}
	if _, err := r.service.PostMessage(reply, nil); err != nil {
		r.service.logger.Warn().Err(err).Str("session_id", userMsg.SessionID).Msg("Automated reply dropped")
	}
}

func (r *Responder) compose(question string) (string, float64, bool) {
	lowered := strings.ToLower(question)
	for _, term := range lowConfidenceTerms {
		if strings.Contains(lowered, term) {
			return "Let me connect you with a member of our support team.", 0.2, true
		}
	}

	if strings.Contains(lowered, "order") || strings.Contains(lowered, "shipping") {
		return "You can track your order from the Orders page in your account. Is there anything else I can help with?", 0.9, false
	}
	return "Thanks for reaching out! Could you tell me a bit more so I can help?", 0.75, false
}
