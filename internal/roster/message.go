// Package roster is the control protocol peers exchange over data
// connections to converge on one participant list.
package roster

import (
	"errors"

	"github.com/dkeye/meetsync/internal/domain"
)

type Kind string

const (
	KindGetParticipants      Kind = "get-participants"
	KindExistingParticipants Kind = "existing-participants"
	KindNewUser              Kind = "new-user"
	KindNewParticipant       Kind = "new-participant"
	KindRemoveUser           Kind = "remove-user"
)

var (
	ErrUnknownMessage = errors.New("unknown roster message")
	ErrMalformed      = errors.New("malformed roster message")
)

// Message is one of the five roster messages. The set is closed.
type Message interface {
	Kind() Kind
	isMessage()
}

// ParticipantInfo is the projection of a participant sent over the wire.
type ParticipantInfo struct {
	ID      domain.Identity `json:"id" msgpack:"id"`
	Name    string          `json:"name" msgpack:"name"`
	IsAdmin bool            `json:"isAdmin" msgpack:"isAdmin"`
}

func InfoOf(p domain.Participant) ParticipantInfo {
	return ParticipantInfo{ID: p.ID, Name: p.Name, IsAdmin: p.IsAdmin}
}

// GetParticipants asks the host for everyone already in the room.
type GetParticipants struct{}

// ExistingParticipants is the host's answer to GetParticipants.
type ExistingParticipants struct {
	Participants []ParticipantInfo
}

// NewUser is sent by a guest to the host right after joining.
type NewUser struct {
	UserID   domain.Identity
	UserName string
}

// NewParticipant is the host telling existing peers about a newcomer.
type NewParticipant struct {
	Participant ParticipantInfo
}

// RemoveUser evicts UserID. Receivers act on it only when addressed to them.
type RemoveUser struct {
	UserID domain.Identity
}

func (GetParticipants) Kind() Kind      { return KindGetParticipants }
func (ExistingParticipants) Kind() Kind { return KindExistingParticipants }
func (NewUser) Kind() Kind              { return KindNewUser }
func (NewParticipant) Kind() Kind       { return KindNewParticipant }
func (RemoveUser) Kind() Kind           { return KindRemoveUser }

func (GetParticipants) isMessage()      {}
func (ExistingParticipants) isMessage() {}
func (NewUser) isMessage()              {}
func (NewParticipant) isMessage()       {}
func (RemoveUser) isMessage()           {}
