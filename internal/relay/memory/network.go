// Package memory is an in-process relay network. Identities, calls and data
// connections behave like the broker-backed adapter, with events delivered
// on their own goroutines.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/media"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Network struct {
	mu    sync.Mutex
	peers map[domain.Identity]*Peer
}

func NewNetwork() *Network {
	return &Network{peers: make(map[domain.Identity]*Peer)}
}

// Open claims preferred first-writer-wins, or a uuid when preferred is empty.
func (n *Network) Open(ctx context.Context, preferred domain.Identity, h relay.Handler) (relay.Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := preferred
	if id == "" {
		id = domain.Identity(uuid.NewString())
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, taken := n.peers[id]; taken {
		return nil, fmt.Errorf("open %s: %w", id, relay.ErrIdentityTaken)
	}
	p := &Peer{
		net:     n,
		id:      id,
		handler: h,
		calls:   make(map[*call]struct{}),
		conns:   make(map[*dataConn]struct{}),
		logger:  log.With().Str("module", "relay.memory").Str("peer", string(id)).Logger(),
	}
	n.peers[id] = p
	p.logger.Debug().Msg("identity open")
	return p, nil
}

// Peers returns the number of open identities.
func (n *Network) Peers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers)
}

func (n *Network) lookup(id domain.Identity) (*Peer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[id]
	return p, ok
}

func (n *Network) release(p *Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peers[p.id] == p {
		delete(n.peers, p.id)
	}
}

type Peer struct {
	net     *Network
	id      domain.Identity
	handler relay.Handler
	logger  zerolog.Logger

	mu        sync.Mutex
	destroyed bool
	calls     map[*call]struct{}
	conns     map[*dataConn]struct{}
}

func (p *Peer) ID() domain.Identity { return p.id }

func (p *Peer) Call(ctx context.Context, remote domain.Identity, local *media.Stream, md relay.Metadata) (relay.Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.isDestroyed() {
		return nil, relay.ErrDestroyed
	}
	target, ok := p.net.lookup(remote)
	if !ok || remote == p.id {
		return nil, fmt.Errorf("call %s: %w", remote, relay.ErrPeerUnavailable)
	}

	out := &call{owner: p, peer: remote, md: md, offered: local}
	in := &call{owner: target, peer: p.id, md: md, offered: local}
	out.other, in.other = in, out

	if !p.track(out) {
		return nil, relay.ErrDestroyed
	}
	if !target.track(in) {
		p.untrack(out)
		return nil, fmt.Errorf("call %s: %w", remote, relay.ErrPeerUnavailable)
	}
	go target.handler.HandleCall(in)
	p.logger.Debug().Str("remote", string(remote)).Msg("call placed")
	return out, nil
}

func (p *Peer) Connect(ctx context.Context, remote domain.Identity) (relay.DataConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.isDestroyed() {
		return nil, relay.ErrDestroyed
	}
	target, ok := p.net.lookup(remote)
	if !ok || remote == p.id {
		return nil, fmt.Errorf("connect %s: %w", remote, relay.ErrPeerUnavailable)
	}

	out := &dataConn{owner: p, peer: remote}
	in := &dataConn{owner: target, peer: p.id}
	out.other, in.other = in, out

	if !p.trackConn(out) {
		return nil, relay.ErrDestroyed
	}
	if !target.trackConn(in) {
		p.untrackConn(out)
		return nil, fmt.Errorf("connect %s: %w", remote, relay.ErrPeerUnavailable)
	}
	go func() {
		target.handler.HandleConnection(in)
		in.open.Fire(struct{}{})
		out.open.Fire(struct{}{})
	}()
	return out, nil
}

// Destroy releases the identity. Remote halves of every call and connection
// see a close.
func (p *Peer) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	calls := make([]*call, 0, len(p.calls))
	for c := range p.calls {
		calls = append(calls, c)
	}
	conns := make([]*dataConn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	p.net.release(p)
	for _, c := range calls {
		c.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	p.logger.Debug().Int("calls", len(calls)).Int("conns", len(conns)).Msg("identity destroyed")
	return nil
}

func (p *Peer) isDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

func (p *Peer) track(c *call) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return false
	}
	p.calls[c] = struct{}{}
	return true
}

func (p *Peer) untrack(c *call) {
	p.mu.Lock()
	delete(p.calls, c)
	p.mu.Unlock()
}

func (p *Peer) trackConn(c *dataConn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return false
	}
	p.conns[c] = struct{}{}
	return true
}

func (p *Peer) untrackConn(c *dataConn) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
}
