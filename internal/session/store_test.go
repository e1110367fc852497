package session

import (
	"sync"
	"testing"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddParticipantKeepsFirst(t *testing.T) {
	s := NewStore()
	assert.True(t, s.AddParticipant(&domain.Participant{ID: "a", Name: "first"}))
	assert.False(t, s.AddParticipant(&domain.Participant{ID: "a", Name: "second", IsAdmin: true}))
	assert.True(t, s.AddParticipant(&domain.Participant{ID: "b", Name: "bob"}))
	assert.False(t, s.AddParticipant(nil))

	snap := s.Snapshot()
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, "first", snap.Participants[0].Name)
	assert.False(t, snap.Participants[0].IsAdmin)
}

func TestAddStreamDedup(t *testing.T) {
	s := NewStore()
	st := media.NewStream("s1")
	assert.True(t, s.AddStream(st))
	assert.False(t, s.AddStream(media.NewStream("s1")))
	assert.False(t, s.AddStream(nil))

	snap := s.Snapshot()
	require.Len(t, snap.Streams, 1)
	assert.Same(t, st, snap.Streams[0])
}

func TestRemoveIsNoopWhenAbsent(t *testing.T) {
	s := NewStore()
	s.AddParticipant(&domain.Participant{ID: "a"})
	s.AddStream(media.NewStream("s"))

	assert.False(t, s.RemoveParticipant("zzz"))
	assert.False(t, s.RemoveStream("zzz"))
	assert.True(t, s.RemoveParticipant("a"))
	assert.True(t, s.RemoveStream("s"))
	assert.Empty(t, s.Snapshot().Participants)
	assert.Empty(t, s.Snapshot().Streams)
}

func TestResetClearsEverything(t *testing.T) {
	s := NewStore()
	s.SetRoomID("abc123")
	s.SetIsAdmin(true)
	s.SetUserName("alice")
	s.SetLocalPeerID("abc123")
	s.AddParticipant(&domain.Participant{ID: "abc123"})
	s.AddStream(media.NewStream("s"))

	s.Reset()
	snap := s.Snapshot()
	assert.Empty(t, snap.Participants)
	assert.Empty(t, snap.Streams)
	assert.Equal(t, domain.RoomID(""), snap.RoomID)
	assert.False(t, snap.IsAdmin)
	assert.Equal(t, "", snap.UserName)
	assert.Equal(t, domain.Identity(""), snap.LocalPeerID)
}

func TestSubscribeNotifiesOnChangeOnly(t *testing.T) {
	s := NewStore()
	var calls int
	var last Snapshot
	unsub := s.Subscribe(func(snap Snapshot) {
		calls++
		last = snap
	})

	s.SetUserName("alice")
	s.SetUserName("alice")
	s.AddParticipant(&domain.Participant{ID: "a"})
	s.AddParticipant(&domain.Participant{ID: "a"})
	assert.Equal(t, 2, calls)
	assert.Len(t, last.Participants, 1)

	unsub()
	unsub()
	s.SetUserName("bob")
	assert.Equal(t, 2, calls)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.AddParticipant(&domain.Participant{ID: "a", Name: "alice"})
	snap := s.Snapshot()
	snap.Participants[0].Name = "mallory"

	p, ok := s.Participant("a")
	require.True(t, ok)
	assert.Equal(t, "alice", p.Name)
}

func TestConcurrentAddParticipant(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddParticipant(&domain.Participant{ID: "same"})
		}()
	}
	wg.Wait()
	assert.Len(t, s.Snapshot().Participants, 1)
}
