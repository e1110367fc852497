// Package recording captures the host's meeting audio and turns it into
// stored minutes: upload, transcription, summary, persistence.
package recording

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dkeye/meetsync/internal/media"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotRecording        = errors.New("not recording")
	ErrAlreadyRecording    = errors.New("already recording")
	ErrNoAudioSource       = errors.New("no recordable audio track")
	ErrTranscriptionFailed = errors.New("transcription failed")
)

const (
	DefaultTimeslice = time.Second

	sampleRate   = 48000
	channelCount = 2
	stopWait     = 2 * time.Second
)

// Recorder encodes a stream into a chunked byte sequence. Chunks arrive
// through OnData every timeslice; OnStop runs once after the final chunk.
type Recorder interface {
	Start(s *media.Stream, timeslice time.Duration) error
	Stop() error
	OnData(func([]byte))
	OnStop(func())
}

// OggRecorder writes the first recordable audio track as Ogg/Opus.
type OggRecorder struct {
	logger zerolog.Logger

	mu      sync.Mutex
	pending bytes.Buffer
	ogg     *oggwriter.OggWriter
	onData  func([]byte)
	onStop  func()
	running bool
	track   string

	src  media.PacketSource
	stop chan struct{}
	done chan struct{}
	tick *time.Ticker
}

func NewOggRecorder() *OggRecorder {
	return &OggRecorder{logger: log.With().Str("module", "recording.ogg").Logger()}
}

func (r *OggRecorder) OnData(fn func([]byte)) {
	r.mu.Lock()
	r.onData = fn
	r.mu.Unlock()
}

func (r *OggRecorder) OnStop(fn func()) {
	r.mu.Lock()
	r.onStop = fn
	r.mu.Unlock()
}

// Start records the first audio track that exposes a packet source. Every
// other track of s is logged and left out of the recording.
func (r *OggRecorder) Start(s *media.Stream, timeslice time.Duration) error {
	var (
		chosen *media.Track
		src    media.PacketSource
	)
	for _, t := range s.Tracks() {
		if chosen == nil && t.Kind() == media.KindAudio {
			if ps, ok := t.Source(); ok {
				chosen, src = t, ps
				continue
			}
		}
		r.logger.Warn().Str("track", t.ID()).Str("kind", string(t.Kind())).Msg("track not recorded")
	}
	if chosen == nil {
		return ErrNoAudioSource
	}
	if err := r.record(src, timeslice); err != nil {
		return err
	}
	r.mu.Lock()
	r.track = chosen.ID()
	r.mu.Unlock()
	r.logger.Info().Str("track", chosen.ID()).Msg("recording audio track")
	return nil
}

// Track returns the id of the track being recorded, or "" before Start.
func (r *OggRecorder) Track() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.track
}

func (r *OggRecorder) record(src media.PacketSource, timeslice time.Duration) error {
	if timeslice <= 0 {
		timeslice = DefaultTimeslice
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRecording
	}
	r.pending.Reset()
	ogg, err := oggwriter.NewWith(&r.pending, sampleRate, channelCount)
	if err != nil {
		return err
	}
	r.ogg = ogg
	r.src = src
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.tick = time.NewTicker(timeslice)

	go r.loop(src, r.stop, r.done)
	go r.flushLoop(r.tick, r.stop)
	r.logger.Info().Dur("timeslice", timeslice).Msg("recording started")
	return nil
}

// loop copies packets from the source into the Ogg stream until the source
// ends or Stop is called.
func (r *OggRecorder) loop(src media.PacketSource, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		pkt, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Warn().Err(err).Msg("read rtp, stopping")
			}
			return
		}
		select {
		case <-stop:
			return
		default:
		}
		r.mu.Lock()
		if r.ogg != nil {
			err = r.ogg.WriteRTP(pkt)
		}
		r.mu.Unlock()
		if err != nil {
			r.logger.Warn().Err(err).Msg("write ogg page")
		}
	}
}

func (r *OggRecorder) flushLoop(tick *time.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			r.flush()
		}
	}
}

func (r *OggRecorder) flush() {
	r.mu.Lock()
	if r.pending.Len() == 0 {
		r.mu.Unlock()
		return
	}
	chunk := bytes.Clone(r.pending.Bytes())
	r.pending.Reset()
	fn := r.onData
	r.mu.Unlock()
	if fn != nil {
		fn(chunk)
	}
}

// Stop ends the recording, emits the remaining bytes and runs OnStop.
func (r *OggRecorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.running = false
	close(r.stop)
	r.tick.Stop()
	src, done := r.src, r.done
	r.src = nil
	r.mu.Unlock()

	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}
	select {
	case <-done:
	case <-time.After(stopWait):
		r.logger.Warn().Msg("source did not stop in time")
	}

	r.mu.Lock()
	err := r.ogg.Close()
	r.ogg = nil
	r.mu.Unlock()

	r.flush()
	r.mu.Lock()
	fn := r.onStop
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
	r.logger.Info().Msg("recording stopped")
	return err
}
