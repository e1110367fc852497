package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/meetsync/internal/core"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/rs/zerolog/log"
)

type clientEntry struct {
	Session  core.ClientSession
	Cancel   context.CancelFunc
	contacts map[domain.Identity]struct{}
}

// Registry maps claimed identities to their signaling connections.
// Claims are first-writer-wins.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.Identity]*clientEntry
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[domain.Identity]*clientEntry),
	}
}

func (r *Registry) Claim(sess core.ClientSession, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[sess.ID]; ok {
		return fmt.Errorf("claim %s: %w", sess.ID, relay.ErrIdentityTaken)
	}
	r.clients[sess.ID] = &clientEntry{
		Session:  sess,
		Cancel:   cancel,
		contacts: make(map[domain.Identity]struct{}),
	}
	log.Info().Str("module", "app.registry").Str("id", string(sess.ID)).Str("token", sess.Token).Msg("identity claimed")
	return nil
}

// Release frees id if it is still held by conn and returns the identities it
// exchanged signals with.
func (r *Registry) Release(id domain.Identity, conn core.SignalConnection) []domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[id]
	if !ok || e.Session.Signal != conn {
		return nil
	}
	delete(r.clients, id)
	out := make([]domain.Identity, 0, len(e.contacts))
	for c := range e.contacts {
		if other, ok := r.clients[c]; ok {
			delete(other.contacts, id)
			out = append(out, c)
		}
	}
	log.Info().Str("module", "app.registry").Str("id", string(id)).Int("contacts", len(out)).Msg("identity released")
	return out
}

func (r *Registry) Lookup(id domain.Identity) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.clients[id]; ok {
		return e.Session.Signal, true
	}
	return nil, false
}

// Touch records that a and b exchanged signals, so each learns when the
// other goes away.
func (r *Registry) Touch(a, b domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ea, okA := r.clients[a]
	eb, okB := r.clients[b]
	if !okA || !okB {
		return
	}
	ea.contacts[b] = struct{}{}
	eb.contacts[a] = struct{}{}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Cancel stops the connection holding id. The connection's own cleanup
// releases the identity.
func (r *Registry) Cancel(id domain.Identity) bool {
	r.mu.RLock()
	e, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("id", string(id)).Msg("canceled client")
	return true
}
