package orch

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dkeye/meetsync/internal/app"
	"github.com/dkeye/meetsync/internal/core"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	frames []core.Frame
	full   bool
}

func (f *fakeConn) TrySend(b core.Frame) error {
	if f.full {
		return errors.New("backpressure")
	}
	f.frames = append(f.frames, b)
	return nil
}

func (f *fakeConn) Close() {}

func (f *fakeConn) messages(t *testing.T) []core.Message {
	t.Helper()
	out := make([]core.Message, 0, len(f.frames))
	for _, b := range f.frames {
		var m core.Message
		require.NoError(t, json.Unmarshal(b, &m))
		out = append(out, m)
	}
	return out
}

func newOrch(t *testing.T, ids ...string) (*Orchestrator, map[string]*fakeConn, map[string]*bool) {
	t.Helper()
	o := &Orchestrator{Registry: app.NewRegistry(), Policy: app.SimplePolicy{}}
	conns := make(map[string]*fakeConn)
	kicked := make(map[string]*bool)
	for _, id := range ids {
		c := &fakeConn{}
		k := false
		conns[id], kicked[id] = c, &k
		require.NoError(t, o.Registry.Claim(core.ClientSession{ID: domainID(id), Signal: c}, func() { k = true }))
	}
	return o, conns, kicked
}

func TestRouteStampsSource(t *testing.T) {
	o, conns, _ := newOrch(t, "a", "b")
	msg, err := core.NewMessage(core.TypeOffer, "b", core.OfferPayload{ConnectionID: "c1", Kind: core.ConnData})
	require.NoError(t, err)

	o.Route("a", msg)
	got := conns["b"].messages(t)
	require.Len(t, got, 1)
	assert.Equal(t, core.TypeOffer, got[0].Type)
	assert.Equal(t, domainID("a"), got[0].Src)
	assert.Empty(t, got[0].Dst)
}

func TestRouteUnknownExpires(t *testing.T) {
	o, conns, _ := newOrch(t, "a")
	msg, _ := core.NewMessage(core.TypeOffer, "ghost", core.OfferPayload{ConnectionID: "c1"})
	o.Route("a", msg)

	got := conns["a"].messages(t)
	require.Len(t, got, 1)
	assert.Equal(t, core.TypeExpire, got[0].Type)
	assert.Equal(t, domainID("ghost"), got[0].Src)
	var p core.OfferPayload
	require.NoError(t, got[0].Decode(&p))
	assert.Equal(t, "c1", p.ConnectionID)

	o.Route("a", core.Message{Type: core.TypeLeave, Dst: "ghost"})
	assert.Len(t, conns["a"].frames, 1)
}

func TestDisconnectNotifiesContacts(t *testing.T) {
	o, conns, _ := newOrch(t, "h", "a", "b")
	o.Route("a", core.Message{Type: core.TypeCandidate, Dst: "h", Payload: []byte(`{}`)})

	o.Disconnect("h", conns["h"])
	got := conns["a"].messages(t)
	require.Len(t, got, 1)
	assert.Equal(t, core.TypeLeave, got[0].Type)
	assert.Equal(t, domainID("h"), got[0].Src)
	assert.Empty(t, conns["b"].frames)
}

func TestBackpressureKicks(t *testing.T) {
	o, conns, kicked := newOrch(t, "a", "b")
	conns["b"].full = true
	o.Route("a", core.Message{Type: core.TypeAnswer, Dst: "b", Payload: []byte(`{}`)})
	assert.True(t, *kicked["b"])
	assert.False(t, *kicked["a"])
}

func domainID(s string) domain.Identity { return domain.Identity(s) }
