// Package session owns the visitor-side conversation lifecycle: starting
// or resuming a durable session, sending messages optimistically, and
// closing the conversation.
package session

import (
	"fmt"
	"strings"

	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	chaterrors "github.com/Waito3007/SHNGear-sub002/internal/errors"
)

// Status is the lifecycle phase of one conversation.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusActive     Status = "active"
	StatusEscalated  Status = "escalated"
	StatusClosed     Status = "closed"
)

// Participant identifies who is on the visitor side of a conversation.
// The identity is fixed when the session starts; switching identities
// requires closing the session first.
type Participant struct {
	// GuestName is the display name for anonymous visitors.
	GuestName string
	// GuestEmail is the optional contact address for anonymous visitors.
	GuestEmail string
	// UserID is set for authenticated customers.
	UserID string
	// Token is the bearer token proving UserID, empty for guests.
	Token string
}

// Authenticated reports whether the participant has a proven identity.
func (p Participant) Authenticated() bool {
	return p.UserID != "" && p.Token != ""
}

// DisplayName returns the name shown to agents.
func (p Participant) DisplayName() string {
	if p.GuestName != "" {
		return p.GuestName
	}
	if p.UserID != "" {
		return p.UserID
	}
	return "Guest"
}

// Validate checks participant fields against input limits.
func (p Participant) Validate() error {
	if len(p.GuestName) > constants.MaxGuestNameLength {
		return chaterrors.ErrInvalidInput(
			fmt.Sprintf("guest name exceeds %d characters", constants.MaxGuestNameLength))
	}
	if p.GuestEmail != "" {
		if len(p.GuestEmail) > constants.MaxGuestEmailLength {
			return chaterrors.ErrInvalidInput(
				fmt.Sprintf("guest email exceeds %d characters", constants.MaxGuestEmailLength))
		}
		if !strings.Contains(p.GuestEmail, "@") {
			return chaterrors.ErrInvalidInput("guest email is not a valid address")
		}
	}
	if p.UserID != "" && p.Token == "" {
		return chaterrors.ErrInvalidInput("authenticated participant requires a token")
	}
	return nil
}

// Same reports whether two participants are the same identity.
func (p Participant) Same(other Participant) bool {
	if p.Authenticated() || other.Authenticated() {
		return p.UserID == other.UserID
	}
	return p.GuestName == other.GuestName && p.GuestEmail == other.GuestEmail
}
