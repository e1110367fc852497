package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/media"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []relay.Call
	conns []relay.DataConn
}

func (r *recorder) HandleCall(c relay.Call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *recorder) HandleConnection(c relay.DataConn) {
	r.mu.Lock()
	r.conns = append(r.conns, c)
	r.mu.Unlock()
}

func (r *recorder) HandleError(error) {}

func (r *recorder) call(i int) relay.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < len(r.calls) {
		return r.calls[i]
	}
	return nil
}

func (r *recorder) conn(i int) relay.DataConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < len(r.conns) {
		return r.conns[i]
	}
	return nil
}

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

func TestOpenFirstWriterWins(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()

	p, err := n.Open(ctx, "R1", &recorder{})
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("R1"), p.ID())

	_, err = n.Open(ctx, "R1", &recorder{})
	assert.ErrorIs(t, err, relay.ErrIdentityTaken)

	g, err := n.Open(ctx, "", &recorder{})
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID())
	assert.Equal(t, 2, n.Peers())

	require.NoError(t, p.Destroy())
	_, err = n.Open(ctx, "R1", &recorder{})
	assert.NoError(t, err)
}

func TestCallExchangesMirrors(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()
	hostRec := &recorder{}
	host, err := n.Open(ctx, "R1", hostRec)
	require.NoError(t, err)
	guest, err := n.Open(ctx, "", &recorder{})
	require.NoError(t, err)

	gTrack := media.NewTrack("g-audio", media.KindAudio)
	gStream := media.NewStream("g", gTrack)
	hStream := media.NewStream("h", media.NewTrack("h-audio", media.KindAudio))

	out, err := guest.Call(ctx, host.ID(), gStream, relay.Metadata{UserName: "alice"})
	require.NoError(t, err)
	assert.Equal(t, host.ID(), out.Peer())

	var got *media.Stream
	var mu sync.Mutex
	out.OnStream(func(s *media.Stream) {
		mu.Lock()
		got = s
		mu.Unlock()
	})

	require.Eventually(t, func() bool { return hostRec.call(0) != nil }, wait, tick)
	in := hostRec.call(0)
	assert.Equal(t, guest.ID(), in.Peer())
	assert.Equal(t, "alice", in.Metadata().UserName)
	require.NoError(t, in.Answer(hStream))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, wait, tick)
	mu.Lock()
	assert.Equal(t, "h", got.ID())
	mu.Unlock()

	remoteCh := make(chan *media.Stream, 1)
	in.OnStream(func(s *media.Stream) { remoteCh <- s })
	var remote *media.Stream
	select {
	case remote = <-remoteCh:
	case <-time.After(wait):
		t.Fatal("no caller stream")
	}
	require.Len(t, remote.AudioTracks(), 1)
	remote.AudioTracks()[0].SetEnabled(false)
	assert.True(t, gTrack.Enabled())
}

func TestAnswerWithoutStream(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()
	rec := &recorder{}
	a, _ := n.Open(ctx, "a", rec)
	b, _ := n.Open(ctx, "b", &recorder{})

	out, err := b.Call(ctx, a.ID(), nil, relay.Metadata{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.call(0) != nil }, wait, tick)
	require.NoError(t, rec.call(0).Answer(nil))

	done := make(chan *media.Stream, 1)
	out.OnStream(func(s *media.Stream) { done <- s })
	select {
	case s := <-done:
		assert.NotNil(t, s)
		assert.Empty(t, s.Tracks())
	case <-time.After(wait):
		t.Fatal("no stream")
	}
}

func TestCallUnknownPeer(t *testing.T) {
	n := NewNetwork()
	p, _ := n.Open(context.Background(), "", &recorder{})
	_, err := p.Call(context.Background(), "nobody", nil, relay.Metadata{})
	assert.ErrorIs(t, err, relay.ErrPeerUnavailable)
	_, err = p.Connect(context.Background(), "nobody")
	assert.ErrorIs(t, err, relay.ErrPeerUnavailable)
}

func TestDataConnDeliversInOrder(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()
	rec := &recorder{}
	a, _ := n.Open(ctx, "a", rec)
	b, _ := n.Open(ctx, "b", &recorder{})

	conn, err := b.Connect(ctx, a.ID())
	require.NoError(t, err)
	assert.ErrorIs(t, conn.Send([]byte("early")), relay.ErrNotOpen)

	opened := make(chan struct{})
	conn.OnOpen(func() { close(opened) })
	<-opened
	require.NoError(t, conn.Send([]byte("one")))
	require.NoError(t, conn.Send([]byte("two")))

	require.Eventually(t, func() bool { return rec.conn(0) != nil }, wait, tick)
	in := rec.conn(0)
	assert.Equal(t, b.ID(), in.Peer())

	var mu sync.Mutex
	var got []string
	in.OnData(func(p []byte) {
		mu.Lock()
		got = append(got, string(p))
		mu.Unlock()
	})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, wait, tick)
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestDestroyClosesRemoteHalves(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()
	rec := &recorder{}
	a, _ := n.Open(ctx, "a", rec)
	b, _ := n.Open(ctx, "b", &recorder{})

	out, err := b.Call(ctx, a.ID(), nil, relay.Metadata{})
	require.NoError(t, err)
	conn, err := b.Connect(ctx, a.ID())
	require.NoError(t, err)

	callClosed := make(chan struct{})
	connClosed := make(chan struct{})
	out.OnClose(func() { close(callClosed) })
	conn.OnClose(func() { close(connClosed) })

	require.Eventually(t, func() bool { return rec.conn(0) != nil && rec.call(0) != nil }, wait, tick)
	require.NoError(t, a.Destroy())
	require.NoError(t, a.Destroy())

	for _, ch := range []chan struct{}{callClosed, connClosed} {
		select {
		case <-ch:
		case <-time.After(wait):
			t.Fatal("remote half not closed")
		}
	}
	assert.Equal(t, 1, n.Peers())
	_, err = a.Call(ctx, b.ID(), nil, relay.Metadata{})
	assert.ErrorIs(t, err, relay.ErrDestroyed)
}
