package domain

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const roomIDLen = 9

const roomAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var ErrRoomIDInvalid = errors.New("invalid room id")

// RoomID is the shareable meeting code. The host claims it as its own Identity,
// so guests reach the host by calling the room id directly.
type RoomID string

// NewRoomID returns a random 9 character base36 room code.
func NewRoomID() RoomID {
	var b strings.Builder
	max := big.NewInt(int64(len(roomAlphabet)))
	for range roomIDLen {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("room id: " + err.Error())
		}
		b.WriteByte(roomAlphabet[n.Int64()])
	}
	return RoomID(b.String())
}

// ParseRoomID trims user input and rejects codes that cannot be relay identities.
func ParseRoomID(raw string) (RoomID, error) {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > MaxIdentityLen || strings.ContainsAny(s, " /?#") {
		return "", ErrRoomIDInvalid
	}
	return RoomID(s), nil
}

// HostIdentity is the relay identity the host of this room claims.
func (r RoomID) HostIdentity() Identity { return Identity(r) }
