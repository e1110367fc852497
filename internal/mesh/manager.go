// Package mesh runs one meeting: it opens the local identity, keeps one call
// per remote participant and converges the roster over data connections.
//
// All relay events are serialised on a single event-loop goroutine. Fields
// marked loop-owned are only touched from that goroutine.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/media"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/dkeye/meetsync/internal/roster"
	"github.com/dkeye/meetsync/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type callEntry struct {
	call     relay.Call
	info     roster.ParticipantInfo
	outbound bool
}

type Manager struct {
	store   *session.Store
	network relay.Network
	device  media.Device

	codec         roster.Codec
	sink          ErrorSink
	hostName      string
	notifyTimeout time.Duration
	constraints   media.Constraints
	recording     Recording
	logger        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}

	started atomic.Bool

	// loop-owned
	peer     relay.Peer
	self     domain.Identity
	isAdmin  bool
	userName string
	local    *media.Stream
	calls    map[domain.Identity]*callEntry
	conns    map[relay.DataConn]struct{}
	ending   bool
	ended    bool
}

// New builds a manager for the meeting seeded in store (room id, role and
// name). Close or EndMeeting must be called to stop it.
func New(store *session.Store, network relay.Network, device media.Device, opts ...Option) *Manager {
	logger := log.With().Str("module", "mesh").Logger()
	m := &Manager{
		store:         store,
		network:       network,
		device:        device,
		codec:         roster.JSONCodec{},
		sink:          LogSink{Logger: logger},
		hostName:      DefaultHostName,
		notifyTimeout: DefaultNotifyTimeout,
		constraints:   media.Constraints{Audio: true, Video: true},
		logger:        logger,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		calls:         make(map[domain.Identity]*callEntry),
		conns:         make(map[relay.DataConn]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	go m.run()
	return m
}

// Done is closed once the meeting is torn down, including on self-eviction.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Start acquires local media, opens the local identity and, for a guest,
// dials the host. A media failure is reported and the meeting continues
// without a local stream.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	snap := m.store.Snapshot()
	logger := m.logger.With().Str("room", string(snap.RoomID)).Bool("host", snap.IsAdmin).Logger()

	local, err := m.device.UserMedia(ctx, m.constraints)
	if err != nil {
		m.report(KindMedia, "getUserMedia", "", err)
		local = nil
	}

	var preferred domain.Identity
	if snap.IsAdmin {
		preferred = snap.RoomID.HostIdentity()
	}
	if err := m.postWait(func() {
		m.isAdmin = snap.IsAdmin
		m.userName = snap.UserName
		m.local = local
		m.self = preferred
		m.store.AddStream(local)
	}); err != nil {
		stopStream(local)
		return err
	}

	peer, err := m.network.Open(ctx, preferred, m)
	if err != nil {
		mErr := &Error{Kind: KindRelay, Op: "open", Peer: preferred, Err: err}
		if snap.IsAdmin && errors.Is(err, relay.ErrIdentityTaken) {
			mErr = &Error{Kind: KindRoomUnavailable, Op: "open", Peer: preferred, Err: fmt.Errorf("%w: %w", ErrRoomUnavailable, err)}
		}
		m.sink.Report(mErr)
		m.postWait(func() { m.teardown() })
		return mErr
	}

	err = m.postWait(func() {
		if m.ended {
			peer.Destroy()
			return
		}
		m.peer = peer
		m.self = peer.ID()
		m.store.SetLocalPeerID(m.self)
		m.store.AddParticipant(&domain.Participant{
			ID:      m.self,
			Name:    m.userName,
			Stream:  m.local,
			IsAdmin: m.isAdmin,
		})
		if !m.isAdmin {
			m.dialHost(snap.RoomID.HostIdentity())
		}
	})
	if err != nil {
		peer.Destroy()
		return err
	}
	logger.Info().Str("self", string(peer.ID())).Msg("meeting started")
	return nil
}

// LocalStream is the shared local stream, nil when capture failed.
func (m *Manager) LocalStream() *media.Stream {
	var s *media.Stream
	m.postWait(func() { s = m.local })
	return s
}

// ToggleMute flips every local audio track in place and reports whether the
// microphone is now muted.
func (m *Manager) ToggleMute() (muted bool, err error) {
	err = m.postWait(func() {
		if m.local == nil || len(m.local.AudioTracks()) == 0 {
			err = ErrNoLocalStream
			return
		}
		muted = !m.local.ToggleKind(media.KindAudio)
	})
	return muted, err
}

// ToggleVideo flips every local video track and reports whether video is on.
func (m *Manager) ToggleVideo() (on bool, err error) {
	err = m.postWait(func() {
		if m.local == nil || len(m.local.VideoTracks()) == 0 {
			err = ErrNoLocalStream
			return
		}
		on = m.local.ToggleKind(media.KindVideo)
	})
	return on, err
}

// RemoveUser evicts a participant. Host only.
func (m *Manager) RemoveUser(id domain.Identity) error {
	var opErr error
	err := m.postWait(func() {
		switch {
		case !m.isAdmin:
			opErr = ErrNotHost
		case m.peer == nil || m.ending:
			opErr = ErrEnded
		case id == m.self:
			opErr = fmt.Errorf("remove %s: cannot remove self", id)
		default:
			m.notifyRemoval(id, nil)
			m.dropPeer(id)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// EndMeeting leaves the meeting. A host first tells every other participant
// to leave, waiting at most the notify timeout for the sends.
func (m *Manager) EndMeeting(ctx context.Context) error {
	var pending []chan struct{}
	err := m.postWait(func() {
		if m.ending {
			return
		}
		m.ending = true
		if !m.isAdmin || m.peer == nil {
			return
		}
		for _, info := range m.others("") {
			if info.ID == m.self {
				continue
			}
			sent := make(chan struct{})
			pending = append(pending, sent)
			m.notifyRemoval(info.ID, sent)
		}
	})
	if errors.Is(err, ErrEnded) {
		return nil
	}
	if err != nil {
		return err
	}

	if len(pending) > 0 {
		timer := time.NewTimer(m.notifyTimeout)
		defer timer.Stop()
	wait:
		for _, ch := range pending {
			select {
			case <-ch:
			case <-timer.C:
				m.logger.Warn().Msg("remove-user notifications timed out")
				break wait
			case <-ctx.Done():
				break wait
			}
		}
	}
	return m.Close()
}

// Close tears the meeting down without notifying anyone. Remote peers notice
// through relay-level disconnects.
func (m *Manager) Close() error {
	err := m.postWait(func() { m.teardown() })
	if errors.Is(err, ErrEnded) {
		return nil
	}
	return err
}

// HandleCall implements relay.Handler.
func (m *Manager) HandleCall(c relay.Call) {
	if !m.post(func() { m.acceptCall(c) }) {
		c.Close()
	}
}

// HandleConnection implements relay.Handler.
func (m *Manager) HandleConnection(c relay.DataConn) {
	if !m.post(func() { m.acceptConn(c) }) {
		c.Close()
	}
}

// HandleError implements relay.Handler.
func (m *Manager) HandleError(err error) {
	m.report(KindRelay, "relay", "", err)
}

func (m *Manager) report(kind ErrorKind, op string, peer domain.Identity, err error) {
	m.sink.Report(&Error{Kind: kind, Op: op, Peer: peer, Err: err})
}

// placeCall dials remote unless a call to it is already tracked.
func (m *Manager) placeCall(info roster.ParticipantInfo) {
	if m.ended || m.ending || m.peer == nil || info.ID == m.self {
		return
	}
	if _, ok := m.calls[info.ID]; ok {
		return
	}
	md := relay.Metadata{UserName: m.userName, IsAdmin: m.isAdmin}
	c, err := m.peer.Call(m.ctx, info.ID, m.local, md)
	if err != nil {
		m.report(KindRelay, "call", info.ID, err)
		return
	}
	m.track(&callEntry{call: c, info: info, outbound: true})
	m.logger.Debug().Str("peer", string(info.ID)).Msg("call placed")
}

func (m *Manager) acceptCall(c relay.Call) {
	remote := c.Peer()
	if m.ended || m.ending {
		c.Close()
		return
	}
	md := c.Metadata()
	info := roster.ParticipantInfo{ID: remote, Name: md.UserName, IsAdmin: md.IsAdmin}

	if cur, ok := m.calls[remote]; ok {
		// Both sides dialed: the call placed by the smaller identity wins.
		if !cur.outbound || m.self < remote {
			m.logger.Debug().Str("peer", string(remote)).Msg("duplicate call closed")
			c.Close()
			return
		}
		info = cur.info
		m.dropPeer(remote)
	}

	if err := c.Answer(m.local); err != nil {
		m.report(KindRelay, "answer", remote, err)
		c.Close()
		return
	}
	m.track(&callEntry{call: c, info: info})
	m.logger.Debug().Str("peer", string(remote)).Str("name", info.Name).Msg("call answered")
}

func (m *Manager) track(e *callEntry) {
	id := e.info.ID
	m.calls[id] = e
	e.call.OnStream(func(s *media.Stream) {
		m.post(func() { m.bindStream(e, s) })
	})
	e.call.OnClose(func() {
		m.post(func() { m.callClosed(e) })
	})
}

func (m *Manager) bindStream(e *callEntry, s *media.Stream) {
	if m.ended || m.calls[e.info.ID] != e {
		return
	}
	added := m.store.AddParticipant(&domain.Participant{
		ID:      e.info.ID,
		Name:    e.info.Name,
		Stream:  s,
		IsAdmin: e.info.IsAdmin,
	})
	m.store.AddStream(s)
	if added {
		m.logger.Info().Str("peer", string(e.info.ID)).Str("name", e.info.Name).Msg("participant joined")
	}
}

func (m *Manager) callClosed(e *callEntry) {
	if m.ended || m.calls[e.info.ID] != e {
		return
	}
	m.dropPeer(e.info.ID)
	m.logger.Info().Str("peer", string(e.info.ID)).Msg("participant left")
}

// dropPeer forgets a remote participant's roster entry, stream and call.
func (m *Manager) dropPeer(id domain.Identity) {
	if p, ok := m.store.Participant(id); ok {
		if sid := p.StreamID(); sid != "" {
			m.store.RemoveStream(sid)
		}
		m.store.RemoveParticipant(id)
	}
	if e, ok := m.calls[id]; ok {
		delete(m.calls, id)
		e.call.Close()
	}
}

// others lists everyone this peer knows except exclude: roster entries plus
// calls whose stream has not arrived yet.
func (m *Manager) others(exclude domain.Identity) []roster.ParticipantInfo {
	var out []roster.ParticipantInfo
	seen := make(map[domain.Identity]struct{})
	for _, p := range m.store.Snapshot().Participants {
		if p.ID == exclude {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, roster.InfoOf(p))
	}
	for id, e := range m.calls {
		if _, ok := seen[id]; ok || id == exclude {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, e.info)
	}
	return out
}

func (m *Manager) teardown() {
	if m.ended {
		return
	}
	m.ended = true
	m.ending = true

	if m.recording != nil && m.recording.Active() {
		if err := m.recording.Stop(); err != nil {
			m.report(KindRecording, "stop", "", err)
		}
	}
	if m.peer != nil {
		if err := m.peer.Destroy(); err != nil {
			m.report(KindRelay, "destroy", m.self, err)
		}
	}
	stopStream(m.local)
	for id, e := range m.calls {
		e.call.Close()
		delete(m.calls, id)
	}
	for c := range m.conns {
		c.Close()
		delete(m.conns, c)
	}
	m.store.Reset()
	m.cancel()
	close(m.done)
	m.logger.Info().Str("self", string(m.self)).Msg("meeting ended")
}

func stopStream(s *media.Stream) {
	if s != nil {
		s.Stop()
	}
}
