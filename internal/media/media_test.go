package media

import (
	"context"
	"io"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleKindMutatesInPlace(t *testing.T) {
	a1, a2 := NewTrack("a1", KindAudio), NewTrack("a2", KindAudio)
	v := NewTrack("v", KindVideo)
	s := NewStream("s", a1, a2, v)

	assert.False(t, s.ToggleKind(KindAudio))
	assert.False(t, a1.Enabled())
	assert.False(t, a2.Enabled())
	assert.True(t, v.Enabled())

	assert.True(t, s.ToggleKind(KindAudio))
	assert.True(t, a1.Enabled())
	assert.True(t, a2.Enabled())
	assert.Same(t, a1, s.AudioTracks()[0])
}

func TestStoppedTrackStaysEnded(t *testing.T) {
	tr := NewTrack("a", KindAudio)
	tr.Stop()
	tr.SetEnabled(true)
	assert.True(t, tr.Ended())
	assert.False(t, tr.Enabled())
}

func TestStreamAddTrackDedup(t *testing.T) {
	s := NewStream("s")
	assert.True(t, s.AddTrack(NewTrack("x", KindAudio)))
	assert.False(t, s.AddTrack(NewTrack("x", KindVideo)))
	assert.False(t, s.AddTrack(nil))
	assert.Len(t, s.Tracks(), 1)
}

func TestMirrorIsIndependent(t *testing.T) {
	a := NewTrack("a", KindAudio)
	s := NewStream("s", a)
	m := s.Mirror()

	require.Equal(t, "s", m.ID())
	require.Len(t, m.Tracks(), 1)
	assert.NotSame(t, a, m.Tracks()[0])

	m.Tracks()[0].SetEnabled(false)
	assert.True(t, a.Enabled())
}

func TestTapDeliversWhileEnabled(t *testing.T) {
	tr := NewTrack("a", KindAudio)
	tr.tap = NewTap()
	src, ok := tr.Source()
	require.True(t, ok)

	require.NoError(t, tr.WriteRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}))
	tr.SetEnabled(false)
	require.NoError(t, tr.WriteRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 2}}))
	tr.SetEnabled(true)
	require.NoError(t, tr.WriteRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 3}}))

	p, err := src.ReadRTP()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), p.SequenceNumber)
	p, err = src.ReadRTP()
	require.NoError(t, err)
	assert.Equal(t, uint16(3), p.SequenceNumber)

	tr.Stop()
	_, err = src.ReadRTP()
	assert.ErrorIs(t, err, io.EOF)
}

func TestTrackWithoutSource(t *testing.T) {
	_, ok := NewTrack("v", KindVideo).Source()
	assert.False(t, ok)
}

func TestPionDeviceUserMedia(t *testing.T) {
	d := NewPionDevice("")
	s, err := d.UserMedia(context.Background(), Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	require.Len(t, s.AudioTracks(), 1)
	require.Len(t, s.VideoTracks(), 1)
	for _, tr := range s.Tracks() {
		require.NotNil(t, tr.Local())
		assert.Equal(t, s.ID(), tr.Local().StreamID())
	}

	_, err = d.UserMedia(context.Background(), Constraints{})
	assert.ErrorIs(t, err, ErrNoConstraints)
}

func TestPionDeviceMissingAudioFile(t *testing.T) {
	d := NewPionDevice("/nonexistent/mic.ogg")
	_, err := d.UserMedia(context.Background(), Constraints{Audio: true})
	assert.Error(t, err)
}
