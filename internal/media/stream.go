package media

import "sync"

// Stream groups tracks under one id. The local stream is held by the session
// store, every outbound call and the local preview at the same time.
type Stream struct {
	id string

	mu     sync.RWMutex
	tracks []*Track
}

func NewStream(id string, tracks ...*Track) *Stream {
	s := &Stream{id: id}
	for _, t := range tracks {
		s.AddTrack(t)
	}
	return s
}

func (s *Stream) ID() string { return s.id }

// AddTrack appends t unless a track with the same id is already present.
func (s *Stream) AddTrack(t *Track) bool {
	if t == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.tracks {
		if cur.ID() == t.ID() {
			return false
		}
	}
	s.tracks = append(s.tracks, t)
	return true
}

func (s *Stream) Tracks() []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *Stream) AudioTracks() []*Track { return s.byKind(KindAudio) }
func (s *Stream) VideoTracks() []*Track { return s.byKind(KindVideo) }

func (s *Stream) byKind(kind Kind) []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// Stop ends every track of the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Mirror builds the remote-origin copy of s that another peer receives.
func (s *Stream) Mirror() *Stream {
	out := &Stream{id: s.id}
	for _, t := range s.Tracks() {
		out.tracks = append(out.tracks, t.Mirror())
	}
	return out
}

// ToggleKind flips every track of the given kind and reports whether they are
// enabled afterwards. A stream without such tracks reports false.
func (s *Stream) ToggleKind(kind Kind) bool {
	tracks := s.byKind(kind)
	if len(tracks) == 0 {
		return false
	}
	on := !tracks[0].Enabled()
	for _, t := range tracks {
		t.SetEnabled(on)
	}
	return on
}
