// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/dkeye/meetsync/internal/media"
)

const (
	MaxIdentityLen = 64
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// Identity is a peer's address on the relay service.
type Identity string

// Participant is one peer in the call as seen by the local roster.
type Participant struct {
	ID      Identity      `json:"id"`
	Name    string        `json:"name"`
	Stream  *media.Stream `json:"-"`
	IsAdmin bool          `json:"isAdmin"`
}

// StreamID returns the id of the participant's stream, or "" when it has none.
func (p Participant) StreamID() string {
	if p.Stream == nil {
		return ""
	}
	return p.Stream.ID()
}

func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
