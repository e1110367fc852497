package rtc

import (
	"testing"
	"time"

	"github.com/dkeye/meetsync/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pair(t *testing.T) (*WebRTCConnection, *WebRTCConnection) {
	t.Helper()
	a, err := NewWebRTCConnection(webrtc.Configuration{}, "a")
	require.NoError(t, err)
	b, err := NewWebRTCConnection(webrtc.Configuration{}, "b")
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	a.OnICECandidate(func(ci webrtc.ICECandidateInit) { _ = b.AddICECandidate(ci) })
	b.OnICECandidate(func(ci webrtc.ICECandidateInit) { _ = a.AddICECandidate(ci) })
	return a, b
}

func TestWebRTCConfig(t *testing.T) {
	cfg := WebRTCConfig(ICEOptions{
		STUNServers: []string{"stun:a", "stun:b"},
		TURNServer:  "turn:t",
		TURNUser:    "u",
		TURNPass:    "p",
	})
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, []string{"stun:a", "stun:b"}, cfg.ICEServers[0].URLs)
	assert.Equal(t, "u", cfg.ICEServers[1].Username)

	assert.Empty(t, WebRTCConfig(ICEOptions{}).ICEServers)
	assert.Len(t, DefaultWebRTCConfig().ICEServers, 1)
}

func TestDataChannelLoopback(t *testing.T) {
	a, b := pair(t)

	got := make(chan string, 1)
	b.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) { got <- string(msg.Data) })
	})

	dc, err := a.CreateDataChannel("roster")
	require.NoError(t, err)
	dc.OnOpen(func() { _ = dc.SendText("hello") })

	offer, err := a.CreateAndSetOffer()
	require.NoError(t, err)
	require.NoError(t, b.SetRemoteDescription(*offer))
	answer, err := b.CreateAndSetAnswer()
	require.NoError(t, err)
	require.NoError(t, a.SetRemoteDescription(*answer))

	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(10 * time.Second):
		t.Fatal("no data channel message")
	}
}

func TestRemoteSendCount(t *testing.T) {
	a, b := pair(t)

	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "s")
	require.NoError(t, err)
	stream := media.NewStream("s", media.NewLocalTrack(media.KindAudio, audio))
	require.NoError(t, a.AddStream(stream))
	require.NoError(t, a.AddReceivers(stream))

	offer, err := a.CreateAndSetOffer()
	require.NoError(t, err)
	require.NoError(t, b.SetRemoteDescription(*offer))
	assert.Equal(t, 1, b.RemoteSendCount())
	assert.Equal(t, "s", b.RemoteStreamID())

	answer, err := b.CreateAndSetAnswer()
	require.NoError(t, err)
	require.NoError(t, a.SetRemoteDescription(*answer))
	assert.Equal(t, 0, a.RemoteSendCount())
	assert.Empty(t, a.RemoteStreamID())
}

func TestCandidatesHeldUntilRemoteDescription(t *testing.T) {
	c, err := NewWebRTCConnection(webrtc.Configuration{}, "c")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"}))
	c.mu.Lock()
	assert.Len(t, c.pending, 1)
	c.mu.Unlock()
}

func TestCloseRunsCallbackOnce(t *testing.T) {
	c, err := NewWebRTCConnection(webrtc.Configuration{}, "c")
	require.NoError(t, err)
	n := 0
	c.OnClosed(func() { n++ })
	c.Close()
	c.Close()
	assert.Equal(t, 1, n)
}
