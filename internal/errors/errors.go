// Package errors provides error handling for the realtime chat core.
// It defines error categories, error codes, and the ChatError type that
// carries recoverability information to the presentation layer.
package errors

import "fmt"

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryConnection represents realtime transport errors
	CategoryConnection ErrorCategory = "connection"
	// CategorySession represents session lifecycle errors
	CategorySession ErrorCategory = "session"
	// CategoryDelivery represents message transmission errors
	CategoryDelivery ErrorCategory = "delivery"
	// CategoryEscalation represents human hand-off errors
	CategoryEscalation ErrorCategory = "escalation"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Connection errors
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrCodeNotConnected     ErrorCode = "NOT_CONNECTED"

	// Session errors
	ErrCodeSessionCreateFailed ErrorCode = "SESSION_CREATE_FAILED"
	ErrCodeNoActiveSession     ErrorCode = "NO_ACTIVE_SESSION"

	// Delivery errors
	ErrCodeSendFailed ErrorCode = "SEND_FAILED"

	// Escalation errors
	ErrCodeEscalationFailed ErrorCode = "ESCALATION_FAILED"

	// Validation / generic
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeBackendError ErrorCode = "BACKEND_ERROR"
)

// ChatError represents a chat core error with category and recoverability
// information. Recoverable errors should surface as a retry affordance in
// the presentation layer; unrecoverable ones end the current operation.
type ChatError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	Cause       error
}

// Error implements the error interface
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// New creates a ChatError with explicit fields. Prefer the specific
// constructors below.
func New(category ErrorCategory, code ErrorCode, message string, recoverable bool, cause error) *ChatError {
	return &ChatError{
		Category:    category,
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
		Cause:       cause,
	}
}

// ErrConnectionFailed creates a handshake failure error. Not recoverable by
// the caller; the connection manager owns recovery via its backoff loop.
func ErrConnectionFailed(cause error) *ChatError {
	return New(CategoryConnection, ErrCodeConnectionFailed,
		"Realtime connection handshake failed", false, cause)
}

// ErrNotConnected creates an error for operations attempted while the
// connection is not in the Connected state. Callers should re-issue the
// operation after observing a reconnected event.
func ErrNotConnected(operation string) *ChatError {
	return New(CategoryConnection, ErrCodeNotConnected,
		fmt.Sprintf("Cannot %s: realtime connection is not established", operation), true, nil)
}

// ErrSessionCreateFailed creates a session creation error
func ErrSessionCreateFailed(cause error) *ChatError {
	return New(CategorySession, ErrCodeSessionCreateFailed,
		"Support session could not be created", true, cause)
}

// ErrNoActiveSession is returned when an operation requires a started session
func ErrNoActiveSession() *ChatError {
	return New(CategorySession, ErrCodeNoActiveSession,
		"No active support session; call Start first", true, nil)
}

// ErrSendFailed creates a message transmission error. The optimistic entry
// has already been replaced by a local failure notice; the user must resend.
func ErrSendFailed(cause error) *ChatError {
	return New(CategoryDelivery, ErrCodeSendFailed,
		"Message could not be delivered", true, cause)
}

// ErrEscalationFailed creates a human hand-off rejection error
func ErrEscalationFailed(cause error) *ChatError {
	return New(CategoryEscalation, ErrCodeEscalationFailed,
		"Request for human assistance was rejected", true, cause)
}

// ErrInvalidInput creates a validation error for user-supplied fields
func ErrInvalidInput(detail string) *ChatError {
	return New(CategorySession, ErrCodeInvalidInput, detail, true, nil)
}
