package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dkeye/meetsync/internal/adapters/peer"
	"github.com/dkeye/meetsync/internal/adapters/rtc"
	"github.com/dkeye/meetsync/internal/config"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/media"
	"github.com/dkeye/meetsync/internal/mesh"
	"github.com/dkeye/meetsync/internal/recording"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/dkeye/meetsync/internal/roster"
	"github.com/dkeye/meetsync/internal/session"
	"github.com/rs/zerolog/log"
)

const helpText = `commands:
  roster         show participants
  mute           toggle microphone
  video          toggle camera
  remove <id>    remove a participant (host)
  record         start recording (host)
  stop           stop recording (host)
  end            leave; the host ends the meeting for everyone`

type meetingDeps struct {
	cfg      *config.Config
	network  relay.Network
	device   media.Device
	pipeline *recording.Pipeline
}

func clientDeps(cfg *config.Config) meetingDeps {
	return meetingDeps{
		cfg: cfg,
		network: peer.NewNetwork(peer.Config{
			RelayURL: cfg.Client.RelayURL,
			WebRTC: rtc.WebRTCConfig(rtc.ICEOptions{
				STUNServers: cfg.Client.STUNServers,
				TURNServer:  cfg.Client.TURNServer,
				TURNUser:    cfg.Client.TURNUser,
				TURNPass:    cfg.Client.TURNPass,
			}),
		}),
		device:   media.NewPionDevice(cfg.Client.AudioFile),
		pipeline: recording.NewPipeline(cfg.Recording, nil),
	}
}

type meetingParams struct {
	Room domain.RoomID
	Name string
	Host bool
}

// lockedWriter serialises roster renders from store callbacks with command
// output.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

type meeting struct {
	store *session.Store
	mgr   *mesh.Manager
	rec   *recording.Controller
	out   io.Writer
}

// runMeeting joins the room and reads commands from in until the meeting
// ends, the input closes or ctx is cancelled. Cancellation leaves without
// notifying anyone.
func runMeeting(ctx context.Context, deps meetingDeps, p meetingParams, in io.Reader, out io.Writer) error {
	codec, err := roster.CodecByName(deps.cfg.Client.WireCodec)
	if err != nil {
		return err
	}
	w := &lockedWriter{w: out}

	store := session.NewStore()
	store.SetRoomID(p.Room)
	store.SetIsAdmin(p.Host)
	store.SetUserName(p.Name)

	opts := []mesh.Option{
		mesh.WithHostName(deps.cfg.Client.HostName),
		mesh.WithNotifyTimeout(deps.cfg.Client.NotifyTimeout),
		mesh.WithCodec(codec),
	}
	m := &meeting{store: store, out: w}
	if p.Host && deps.pipeline != nil {
		m.rec = recording.NewController(store, deps.device, deps.pipeline,
			recording.WithTimeslice(deps.cfg.Recording.Timeslice),
			recording.WithStatus(func(s recording.Status) {
				if s.Err != nil {
					fmt.Fprintf(w, "recording %s: %v\n", s.Stage, s.Err)
					return
				}
				fmt.Fprintf(w, "recording %s %s\n", s.Stage, s.URL)
			}))
		opts = append(opts, mesh.WithRecording(m.rec))
	}
	m.mgr = mesh.New(store, deps.network, deps.device, opts...)

	unsubscribe := store.Subscribe(func(s session.Snapshot) {
		if s.LocalPeerID != "" {
			renderRoster(w, s)
		}
	})
	defer unsubscribe()

	if err := m.mgr.Start(ctx); err != nil {
		_ = m.mgr.Close()
		return err
	}
	fmt.Fprintln(w, helpText)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-m.mgr.Done():
				return
			}
		}
	}()

	defer m.waitRecording()
	for {
		select {
		case <-ctx.Done():
			return m.mgr.Close()
		case <-m.mgr.Done():
			fmt.Fprintln(w, "meeting ended")
			return nil
		case line, ok := <-lines:
			if !ok {
				return m.mgr.Close()
			}
			if m.exec(ctx, line) {
				<-m.mgr.Done()
				fmt.Fprintln(w, "meeting ended")
				return nil
			}
		}
	}
}

// exec runs one command line and reports whether the meeting is over.
func (m *meeting) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "roster":
		renderRoster(m.out, m.store.Snapshot())
	case "mute":
		muted, err := m.mgr.ToggleMute()
		if m.report(err) {
			fmt.Fprintf(m.out, "microphone %s\n", onOff(!muted))
		}
	case "video":
		on, err := m.mgr.ToggleVideo()
		if m.report(err) {
			fmt.Fprintf(m.out, "camera %s\n", onOff(on))
		}
	case "remove":
		if len(fields) != 2 {
			fmt.Fprintln(m.out, "usage: remove <id>")
			return false
		}
		m.report(m.mgr.RemoveUser(domain.Identity(fields[1])))
	case "record":
		if !m.recordingAvailable() {
			return false
		}
		if m.report(m.rec.Start(ctx)) {
			fmt.Fprintln(m.out, "recording started")
		}
	case "stop":
		if !m.recordingAvailable() {
			return false
		}
		if m.report(m.rec.Stop()) {
			fmt.Fprintln(m.out, "recording stopped, processing")
		}
	case "end", "quit", "exit":
		m.report(m.mgr.EndMeeting(ctx))
		return true
	case "help":
		fmt.Fprintln(m.out, helpText)
	default:
		fmt.Fprintf(m.out, "unknown command %q\n%s\n", fields[0], helpText)
	}
	return false
}

// report prints err and returns true when there was none.
func (m *meeting) report(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, mesh.ErrNotHost):
		fmt.Fprintln(m.out, "only the host can do that")
	case errors.Is(err, mesh.ErrNoLocalStream):
		fmt.Fprintln(m.out, "no local media")
	default:
		fmt.Fprintf(m.out, "error: %v\n", err)
	}
	return false
}

func (m *meeting) recordingAvailable() bool {
	switch {
	case !m.store.IsAdmin():
		m.report(mesh.ErrNotHost)
	case m.rec == nil:
		fmt.Fprintln(m.out, "recording not configured")
	default:
		return true
	}
	return false
}

func (m *meeting) waitRecording() {
	if m.rec == nil {
		return
	}
	log.Info().Str("module", "cli").Msg("waiting for recording pipeline")
	m.rec.Wait()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
