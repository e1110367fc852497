package recording

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/meetsync/internal/media"
	"github.com/dkeye/meetsync/internal/mesh"
	"github.com/dkeye/meetsync/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type Option func(*Controller)

func WithTimeslice(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeslice = d
		}
	}
}

// WithRecorder replaces the Ogg recorder, one fresh recorder per session.
func WithRecorder(fn func() Recorder) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newRecorder = fn
		}
	}
}

func WithStatus(fn func(Status)) Option {
	return func(c *Controller) { c.onStatus = fn }
}

// Controller is the host's Start/Stop recording control. A finished
// recording is processed in the background and outlives the meeting.
type Controller struct {
	store       *session.Store
	device      media.Device
	pipeline    *Pipeline
	newRecorder func() Recorder
	timeslice   time.Duration
	onStatus    func(Status)
	logger      zerolog.Logger
	runs        conc.WaitGroup

	mu      sync.Mutex
	rec     Recorder
	capture []*media.Stream
	blob    bytes.Buffer
}

var _ mesh.Recording = (*Controller)(nil)

func NewController(store *session.Store, device media.Device, p *Pipeline, opts ...Option) *Controller {
	c := &Controller{
		store:       store,
		device:      device,
		pipeline:    p,
		newRecorder: func() Recorder { return NewOggRecorder() },
		timeslice:   DefaultTimeslice,
		logger:      log.With().Str("module", "recording").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec != nil
}

// Start captures the display and microphone and records them as one stream.
func (c *Controller) Start(ctx context.Context) error {
	if !c.store.IsAdmin() {
		return mesh.ErrNotHost
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec != nil {
		return ErrAlreadyRecording
	}

	display, err := c.device.DisplayMedia(ctx, media.Constraints{Audio: true, Video: true})
	if err != nil {
		return fmt.Errorf("display capture: %w", err)
	}
	mic, err := c.device.UserMedia(ctx, media.Constraints{Audio: true})
	if err != nil {
		display.Stop()
		return fmt.Errorf("microphone capture: %w", err)
	}
	combined := media.NewStream(uuid.NewString(), display.VideoTracks()...)
	for _, t := range append(display.AudioTracks(), mic.AudioTracks()...) {
		combined.AddTrack(t)
	}

	rec := c.newRecorder()
	rec.OnData(c.appendChunk)
	rec.OnStop(c.finish)
	c.blob.Reset()
	if err := rec.Start(combined, c.timeslice); err != nil {
		display.Stop()
		mic.Stop()
		return err
	}
	c.rec = rec
	c.capture = []*media.Stream{display, mic}
	c.logger.Info().Str("room", string(c.store.Snapshot().RoomID)).Int("tracks", len(combined.Tracks())).Msg("recording")
	return nil
}

// Stop ends the recording and hands the result to the pipeline.
func (c *Controller) Stop() error {
	c.mu.Lock()
	rec, capture := c.rec, c.capture
	c.rec, c.capture = nil, nil
	c.mu.Unlock()
	if rec == nil {
		return ErrNotRecording
	}
	err := rec.Stop()
	for _, s := range capture {
		s.Stop()
	}
	return err
}

// Wait blocks until every background pipeline run has finished.
func (c *Controller) Wait() {
	c.runs.Wait()
}

func (c *Controller) appendChunk(b []byte) {
	c.mu.Lock()
	c.blob.Write(b)
	c.mu.Unlock()
}

func (c *Controller) finish() {
	c.mu.Lock()
	blob := bytes.Clone(c.blob.Bytes())
	c.blob.Reset()
	c.mu.Unlock()

	if len(blob) == 0 {
		c.logger.Warn().Msg("empty recording, nothing to process")
		return
	}
	title := fmt.Sprintf("Meeting %s %s", c.store.Snapshot().RoomID, time.Now().Format("2006-01-02 15:04"))
	c.logger.Info().Int("bytes", len(blob)).Str("title", title).Msg("processing recording")
	c.runs.Go(func() {
		_, _ = c.pipeline.Run(context.Background(), blob, title, c.report)
	})
}

func (c *Controller) report(s Status) {
	ev := c.logger.Info()
	if s.Err != nil {
		ev = c.logger.Error().Err(s.Err)
	}
	ev.Str("stage", string(s.Stage)).Str("url", s.URL).Msg("pipeline status")
	if c.onStatus != nil {
		c.onStatus(s)
	}
}
