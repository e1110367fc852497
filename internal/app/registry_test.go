package app

import (
	"testing"

	"github.com/dkeye/meetsync/internal/core"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(b core.Frame) error {
	f.frames = append(f.frames, b)
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func TestClaimFirstWriterWins(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeConn{}, &fakeConn{}
	require.NoError(t, r.Claim(core.ClientSession{ID: "R1", Signal: a}, nil))
	assert.ErrorIs(t, r.Claim(core.ClientSession{ID: "R1", Signal: b}, nil), relay.ErrIdentityTaken)

	got, ok := r.Lookup("R1")
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, 1, r.Count())
}

func TestReleaseRequiresOwner(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeConn{}, &fakeConn{}
	require.NoError(t, r.Claim(core.ClientSession{ID: "R1", Signal: a}, nil))

	assert.Nil(t, r.Release("R1", b))
	_, ok := r.Lookup("R1")
	assert.True(t, ok)

	r.Release("R1", a)
	_, ok = r.Lookup("R1")
	assert.False(t, ok)
	assert.NoError(t, r.Claim(core.ClientSession{ID: "R1", Signal: b}, nil))
}

func TestReleaseReturnsContacts(t *testing.T) {
	r := NewRegistry()
	conns := map[domain.Identity]*fakeConn{"h": {}, "a": {}, "b": {}}
	for id, c := range conns {
		require.NoError(t, r.Claim(core.ClientSession{ID: id, Signal: c}, nil))
	}
	r.Touch("h", "a")
	r.Touch("h", "b")
	r.Touch("h", "ghost")

	assert.ElementsMatch(t, []domain.Identity{"a", "b"}, r.Release("h", conns["h"]))
	assert.Empty(t, r.Release("a", conns["a"]))
}

func TestCancel(t *testing.T) {
	r := NewRegistry()
	canceled := false
	require.NoError(t, r.Claim(core.ClientSession{ID: "x", Signal: &fakeConn{}}, func() { canceled = true }))
	assert.True(t, r.Cancel("x"))
	assert.True(t, canceled)
	assert.False(t, r.Cancel("nobody"))
}
