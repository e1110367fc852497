// Package relay is the contract of the rendezvous service peers use to reach
// each other by identity: media calls, data connections and destroy.
package relay

import (
	"context"
	"errors"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/media"
)

var (
	ErrIdentityTaken   = errors.New("identity already taken")
	ErrPeerUnavailable = errors.New("peer unavailable")
	ErrDestroyed       = errors.New("peer destroyed")
	ErrNotOpen         = errors.New("connection not open")
)

// Metadata travels with a call offer.
type Metadata struct {
	UserName string `json:"userName"`
	IsAdmin  bool   `json:"isAdmin"`
}

// Call is a media session with one remote identity. Callbacks registered
// after the event fired are invoked right away.
type Call interface {
	Peer() domain.Identity
	Metadata() Metadata
	// Answer accepts an inbound call, sending local (may be nil) back.
	Answer(local *media.Stream) error
	OnStream(func(*media.Stream))
	OnClose(func())
	Close() error
}

// DataConn is an ordered message channel with one remote identity.
// Messages received before OnData is set are buffered.
type DataConn interface {
	Peer() domain.Identity
	Send([]byte) error
	OnOpen(func())
	OnData(func([]byte))
	OnClose(func())
	OnError(func(error))
	Close() error
}

// Peer is an open identity on the relay.
type Peer interface {
	ID() domain.Identity
	Call(ctx context.Context, remote domain.Identity, local *media.Stream, md Metadata) (Call, error)
	Connect(ctx context.Context, remote domain.Identity) (DataConn, error)
	// Destroy releases the identity and closes every call and connection.
	Destroy() error
}

// Handler receives inbound activity for an open identity. Methods may be
// called from any goroutine and must not block.
type Handler interface {
	HandleCall(Call)
	HandleConnection(DataConn)
	HandleError(error)
}

type Network interface {
	// Open claims preferred, or a relay-assigned identity when preferred is
	// empty. A claimed identity fails with ErrIdentityTaken.
	Open(ctx context.Context, preferred domain.Identity, h Handler) (Peer, error)
}
