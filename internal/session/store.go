// Package session holds the meeting state shared by the mesh manager, the
// recorder and the CLI: room, role, local identity, roster and streams.
package session

import (
	"sync"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/media"
)

// Snapshot is a point-in-time copy of the store. Slices are fresh copies;
// streams and their tracks are shared by reference.
type Snapshot struct {
	IsAdmin      bool
	RoomID       domain.RoomID
	UserName     string
	LocalPeerID  domain.Identity
	Participants []domain.Participant
	Streams      []*media.Stream
}

// Store is the single source of truth for membership. Every mutation that
// changes state notifies subscribers after the lock is released.
type Store struct {
	mu    sync.RWMutex
	state Snapshot

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Snapshot)
}

func NewStore() *Store {
	return &Store{subs: make(map[int]func(Snapshot))}
}

func (s *Store) SetRoomID(id domain.RoomID) {
	s.update(func(st *Snapshot) bool {
		if st.RoomID == id {
			return false
		}
		st.RoomID = id
		return true
	})
}

func (s *Store) SetIsAdmin(flag bool) {
	s.update(func(st *Snapshot) bool {
		if st.IsAdmin == flag {
			return false
		}
		st.IsAdmin = flag
		return true
	})
}

func (s *Store) SetUserName(name string) {
	s.update(func(st *Snapshot) bool {
		if st.UserName == name {
			return false
		}
		st.UserName = name
		return true
	})
}

func (s *Store) SetLocalPeerID(id domain.Identity) {
	s.update(func(st *Snapshot) bool {
		if st.LocalPeerID == id {
			return false
		}
		st.LocalPeerID = id
		return true
	})
}

// AddParticipant inserts p unless its id is already present. The first entry
// for an id is kept untouched.
func (s *Store) AddParticipant(p *domain.Participant) bool {
	if p == nil {
		return false
	}
	return s.update(func(st *Snapshot) bool {
		for _, cur := range st.Participants {
			if cur.ID == p.ID {
				return false
			}
		}
		st.Participants = append(st.Participants, *p)
		return true
	})
}

func (s *Store) RemoveParticipant(id domain.Identity) bool {
	return s.update(func(st *Snapshot) bool {
		for i, cur := range st.Participants {
			if cur.ID == id {
				st.Participants = append(st.Participants[:i:i], st.Participants[i+1:]...)
				return true
			}
		}
		return false
	})
}

// AddStream inserts stream unless one with the same id is present.
func (s *Store) AddStream(stream *media.Stream) bool {
	if stream == nil {
		return false
	}
	return s.update(func(st *Snapshot) bool {
		for _, cur := range st.Streams {
			if cur.ID() == stream.ID() {
				return false
			}
		}
		st.Streams = append(st.Streams, stream)
		return true
	})
}

func (s *Store) RemoveStream(id string) bool {
	return s.update(func(st *Snapshot) bool {
		for i, cur := range st.Streams {
			if cur.ID() == id {
				st.Streams = append(st.Streams[:i:i], st.Streams[i+1:]...)
				return true
			}
		}
		return false
	})
}

func (s *Store) Reset() {
	s.update(func(st *Snapshot) bool {
		*st = Snapshot{}
		return true
	})
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) Participant(id domain.Identity) (domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.state.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Participant{}, false
}

func (s *Store) LocalPeerID() domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LocalPeerID
}

func (s *Store) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsAdmin
}

// Subscribe registers fn for change notifications. Callbacks run on the
// goroutine that made the change and must not block.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) update(mutate func(*Snapshot) bool) bool {
	s.mu.Lock()
	changed := mutate(&s.state)
	var snap Snapshot
	if changed {
		snap = s.copyLocked()
	}
	s.mu.Unlock()

	if changed {
		s.notify(snap)
	}
	return changed
}

func (s *Store) notify(snap Snapshot) {
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) copyLocked() Snapshot {
	out := s.state
	out.Participants = append([]domain.Participant(nil), s.state.Participants...)
	out.Streams = append([]*media.Stream(nil), s.state.Streams...)
	return out
}
