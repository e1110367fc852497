package peer

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	httpadapter "github.com/dkeye/meetsync/internal/adapters/http"
	"github.com/dkeye/meetsync/internal/adapters/rtc"
	"github.com/dkeye/meetsync/internal/app"
	"github.com/dkeye/meetsync/internal/app/orch"
	"github.com/dkeye/meetsync/internal/config"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/media"
	"github.com/dkeye/meetsync/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handler struct {
	calls chan relay.Call
	conns chan relay.DataConn
	errs  chan error
}

func newHandler() *handler {
	return &handler{
		calls: make(chan relay.Call, 4),
		conns: make(chan relay.DataConn, 4),
		errs:  make(chan error, 4),
	}
}

func (h *handler) HandleCall(c relay.Call)           { h.calls <- c }
func (h *handler) HandleConnection(d relay.DataConn) { h.conns <- d }
func (h *handler) HandleError(err error)             { h.errs <- err }

func newBroker(t *testing.T) *Network {
	t.Helper()
	o := &orch.Orchestrator{Registry: app.NewRegistry(), Policy: app.SimplePolicy{}}
	cfg := &config.Config{
		Mode:          "test",
		Secret:        "test-secret",
		ReadLimit:     65536,
		PingPeriod:    time.Minute,
		SendBuffer:    64,
		ClaimLimit:    100,
		ClaimInterval: time.Minute,
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(httpadapter.SetupRouter(ctx, cfg, o))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return NewNetwork(Config{
		RelayURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/relay",
		WebRTC:   rtc.WebRTCConfig(rtc.ICEOptions{}),
	})
}

func open(t *testing.T, n *Network, id string, h relay.Handler) relay.Peer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := n.Open(ctx, domain.Identity(id), h)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })
	return p
}

func TestOpenAssignsIdentity(t *testing.T) {
	n := newBroker(t)
	p := open(t, n, "", newHandler())
	assert.NotEmpty(t, p.ID())

	named := open(t, n, "ROOM1", newHandler())
	assert.Equal(t, "ROOM1", string(named.ID()))
}

func TestOpenIdentityTaken(t *testing.T) {
	n := newBroker(t)
	open(t, n, "ROOM1", newHandler())

	_, err := n.Open(context.Background(), "ROOM1", newHandler())
	assert.ErrorIs(t, err, relay.ErrIdentityTaken)
}

func TestDataConnExchange(t *testing.T) {
	n := newBroker(t)
	hostH := newHandler()
	host := open(t, n, "ROOM1", hostH)
	guest := open(t, n, "", newHandler())

	conn, err := guest.Connect(context.Background(), host.ID())
	require.NoError(t, err)
	opened := make(chan struct{})
	conn.OnOpen(func() { close(opened) })

	var inbound relay.DataConn
	select {
	case inbound = <-hostH.conns:
	case <-time.After(5 * time.Second):
		t.Fatal("host never saw the connection")
	}
	assert.Equal(t, guest.ID(), inbound.Peer())
	got := make(chan []byte, 1)
	inbound.OnData(func(b []byte) { got <- b })

	select {
	case <-opened:
	case <-time.After(10 * time.Second):
		t.Fatal("data channel never opened")
	}
	require.NoError(t, conn.Send([]byte("hello")))

	select {
	case b := <-got:
		assert.Equal(t, "hello", string(b))
	case <-time.After(5 * time.Second):
		t.Fatal("payload not delivered")
	}

	closed := make(chan struct{})
	conn.OnClose(func() { close(closed) })
	require.NoError(t, host.Destroy())
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("guest connection not closed after host left")
	}
}

func TestConnectUnknownPeerReportsUnavailable(t *testing.T) {
	n := newBroker(t)
	h := newHandler()
	p := open(t, n, "", h)

	_, err := p.Connect(context.Background(), "NOBODY")
	require.NoError(t, err)

	select {
	case err := <-h.errs:
		assert.ErrorIs(t, err, relay.ErrPeerUnavailable)
	case <-time.After(5 * time.Second):
		t.Fatal("expected peer-unavailable error")
	}
}

func TestDestroyedPeerRefusesCalls(t *testing.T) {
	n := newBroker(t)
	p := open(t, n, "", newHandler())
	require.NoError(t, p.Destroy())

	_, err := p.Connect(context.Background(), "ROOM1")
	assert.ErrorIs(t, err, relay.ErrDestroyed)
}

func TestMediaCallEmitsStreamsWithoutPackets(t *testing.T) {
	n := newBroker(t)
	calleeH := newHandler()
	callee := open(t, n, "ROOM1", calleeH)
	caller := open(t, n, "", newHandler())

	ctx := context.Background()
	dev := media.NewPionDevice("")
	callerLocal, err := dev.UserMedia(ctx, media.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	calleeLocal, err := dev.UserMedia(ctx, media.Constraints{Audio: true, Video: true})
	require.NoError(t, err)

	out, err := caller.Call(ctx, callee.ID(), callerLocal, relay.Metadata{UserName: "bob"})
	require.NoError(t, err)
	callerGot := make(chan *media.Stream, 1)
	out.OnStream(func(s *media.Stream) { callerGot <- s })

	var in relay.Call
	select {
	case in = <-calleeH.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("callee never saw the call")
	}
	assert.Equal(t, caller.ID(), in.Peer())
	assert.Equal(t, "bob", in.Metadata().UserName)
	calleeGot := make(chan *media.Stream, 1)
	in.OnStream(func(s *media.Stream) { calleeGot <- s })
	require.NoError(t, in.Answer(calleeLocal))

	select {
	case s := <-calleeGot:
		assert.Equal(t, callerLocal.ID(), s.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("callee got no stream")
	}
	select {
	case s := <-callerGot:
		assert.Equal(t, calleeLocal.ID(), s.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("caller got no stream")
	}
}

func TestMediaCallWithoutLocalTracks(t *testing.T) {
	n := newBroker(t)
	calleeH := newHandler()
	callee := open(t, n, "ROOM1", calleeH)
	caller := open(t, n, "", newHandler())

	out, err := caller.Call(context.Background(), callee.ID(), nil, relay.Metadata{})
	require.NoError(t, err)
	callerGot := make(chan *media.Stream, 1)
	out.OnStream(func(s *media.Stream) { callerGot <- s })

	var in relay.Call
	select {
	case in = <-calleeH.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("callee never saw the call")
	}
	require.NoError(t, in.Answer(nil))

	select {
	case s := <-callerGot:
		assert.True(t, strings.HasPrefix(s.ID(), "conn-"))
		assert.Empty(t, s.Tracks())
	case <-time.After(5 * time.Second):
		t.Fatal("caller got no stream")
	}
}
