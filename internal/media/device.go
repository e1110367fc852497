package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

var ErrNoConstraints = errors.New("neither audio nor video requested")

type Constraints struct {
	Audio bool
	Video bool
}

// Device is the capture side: camera and microphone, or the screen.
type Device interface {
	UserMedia(ctx context.Context, c Constraints) (*Stream, error)
	DisplayMedia(ctx context.Context, c Constraints) (*Stream, error)
}

const (
	opusPayloadType = 111
	oggPageDuration = 20 * time.Millisecond
)

var (
	opusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// PionDevice produces pion local tracks for a headless participant. Video
// tracks carry no frames. With AudioFile set, the microphone plays an
// Ogg/Opus file in a loop until the track is stopped.
type PionDevice struct {
	AudioFile string
}

func NewPionDevice(audioFile string) *PionDevice {
	return &PionDevice{AudioFile: audioFile}
}

func (d *PionDevice) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrNoConstraints
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream := NewStream(uuid.NewString())
	if c.Audio {
		t, err := d.microphone(stream.ID())
		if err != nil {
			return nil, err
		}
		stream.AddTrack(t)
	}
	if c.Video {
		t, err := newVideoTrack("camera", stream.ID())
		if err != nil {
			return nil, err
		}
		stream.AddTrack(t)
	}
	return stream, nil
}

func (d *PionDevice) DisplayMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream := NewStream(uuid.NewString())
	t, err := newVideoTrack("screen", stream.ID())
	if err != nil {
		return nil, err
	}
	stream.AddTrack(t)
	if c.Audio {
		local, err := webrtc.NewTrackLocalStaticRTP(opusCodec, "screen-audio-"+uuid.NewString(), stream.ID())
		if err != nil {
			return nil, fmt.Errorf("display audio track: %w", err)
		}
		stream.AddTrack(NewLocalTrack(KindAudio, local))
	}
	return stream, nil
}

func (d *PionDevice) microphone(streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(opusCodec, "audio-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("audio track: %w", err)
	}
	if d.AudioFile == "" {
		return NewLocalTrack(KindAudio, local), nil
	}
	f, err := os.Open(d.AudioFile)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	t := NewTappedTrack(KindAudio, local)
	go pumpOgg(f, t)
	return t, nil
}

func newVideoTrack(prefix, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(vp8Codec, prefix+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("%s track: %w", prefix, err)
	}
	return NewLocalTrack(KindVideo, local), nil
}

// pumpOgg packetizes Ogg pages into RTP at real-time pace. Muted periods still
// advance the clock so the far end sees a gap, not a burst.
func pumpOgg(f *os.File, t *Track) {
	logger := log.With().Str("module", "media").Str("track", t.ID()).Logger()
	defer f.Close()

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		logger.Error().Err(err).Msg("ogg header")
		return
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	ssrc := rand.Uint32()
	var (
		seq         uint16
		ts          uint32
		lastGranule uint64
	)
	for !t.Ended() {
		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				logger.Error().Err(err).Msg("ogg rewind")
				return
			}
			if reader, _, err = oggreader.NewWith(f); err != nil {
				logger.Error().Err(err).Msg("ogg header")
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("ogg page")
			return
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    opusPayloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           ssrc,
			},
			Payload: page,
		}
		seq++
		ts += uint32(samples)

		if err := t.WriteRTP(pkt); err != nil {
			logger.Warn().Err(err).Msg("write rtp")
		}
		<-ticker.C
	}
	logger.Debug().Msg("microphone pump stopped")
}
