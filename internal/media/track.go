// Package media models capture streams the way the meeting page sees them:
// a stream is a bag of tracks shared by reference, and toggles flip a track's
// enabled state in place for every holder at once.
package media

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateMuted
	TrackStateEnded
)

// PacketSource yields RTP packets of one track.
type PacketSource interface {
	ReadRTP() (*rtp.Packet, error)
}

// Track is a single audio or video track. Zero state is TrackStateLive.
type Track struct {
	id    string
	kind  Kind
	state atomic.Int32

	local  webrtc.TrackLocal
	remote *webrtc.TrackRemote
	tap    *Tap
}

func NewTrack(id string, kind Kind) *Track {
	return &Track{id: id, kind: kind}
}

// NewLocalTrack wraps a pion local track that calls can publish.
func NewLocalTrack(kind Kind, local webrtc.TrackLocal) *Track {
	return &Track{id: local.ID(), kind: kind, local: local}
}

// NewTappedTrack is a local track whose packets can also be read back
// through Source, for recorders.
func NewTappedTrack(kind Kind, local webrtc.TrackLocal) *Track {
	return &Track{id: local.ID(), kind: kind, local: local, tap: NewTap()}
}

// NewRemoteTrack wraps a track received on a peer connection.
func NewRemoteTrack(remote *webrtc.TrackRemote) *Track {
	kind := KindVideo
	if remote.Kind() == webrtc.RTPCodecTypeAudio {
		kind = KindAudio
	}
	return &Track{id: remote.ID(), kind: kind, remote: remote}
}

func (t *Track) ID() string                  { return t.id }
func (t *Track) Kind() Kind                  { return t.kind }
func (t *Track) Local() webrtc.TrackLocal    { return t.local }
func (t *Track) Remote() *webrtc.TrackRemote { return t.remote }

func (t *Track) State() TrackState {
	return TrackState(t.state.Load())
}

func (t *Track) Enabled() bool { return t.State() == TrackStateLive }
func (t *Track) Ended() bool   { return t.State() == TrackStateEnded }

// SetEnabled toggles the track. Ended tracks stay ended.
func (t *Track) SetEnabled(on bool) {
	next := TrackStateMuted
	if on {
		next = TrackStateLive
	}
	for {
		cur := t.state.Load()
		if TrackState(cur) == TrackStateEnded {
			return
		}
		if t.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

// Stop ends the track for good and releases its packet tap.
func (t *Track) Stop() {
	t.state.Store(int32(TrackStateEnded))
	if t.tap != nil {
		t.tap.Close()
	}
}

// WriteRTP publishes a packet to calls and recorders. Packets written while
// the track is muted or ended are dropped.
func (t *Track) WriteRTP(pkt *rtp.Packet) error {
	if !t.Enabled() {
		return nil
	}
	if t.tap != nil {
		t.tap.Publish(pkt)
	}
	if w, ok := t.local.(*webrtc.TrackLocalStaticRTP); ok {
		return w.WriteRTP(pkt)
	}
	return nil
}

// Source opens a packet reader for recording. Remote tracks read straight
// from the connection; local tracks need a packet tap.
func (t *Track) Source() (PacketSource, bool) {
	switch {
	case t.remote != nil:
		return remoteSource{t.remote}, true
	case t.tap != nil:
		return t.tap.Subscribe(), true
	default:
		return nil, false
	}
}

// Mirror returns the copy a remote peer holds: same id and kind, its own
// state, the same packet tap.
func (t *Track) Mirror() *Track {
	return &Track{id: t.id, kind: t.kind, tap: t.tap}
}

type remoteSource struct {
	track *webrtc.TrackRemote
}

func (s remoteSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.track.ReadRTP()
	return pkt, err
}
