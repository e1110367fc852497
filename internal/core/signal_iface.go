package core

import "github.com/dkeye/meetsync/internal/domain"

// Frame is one encoded signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ClientSession binds a claimed identity to its transport endpoint.
type ClientSession struct {
	ID     domain.Identity
	Token  string
	Signal SignalConnection
}
