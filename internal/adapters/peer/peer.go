package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/meetsync/internal/adapters/rtc"
	"github.com/dkeye/meetsync/internal/core"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/media"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
)

// link is one PeerConnection to a remote identity, either a media call or
// a roster data channel.
type link struct {
	id     string
	remote domain.Identity
	kind   core.ConnKind
	conn   *rtc.WebRTCConnection

	// onAnswer runs after the remote answer was applied.
	onAnswer func()
}

type Peer struct {
	ws      *websocket.Conn
	id      domain.Identity
	handler relay.Handler
	rtcCfg  webrtc.Configuration
	logger  zerolog.Logger

	send      chan core.Frame
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	links     map[string]*link
	destroyed bool
	offline   bool
}

func newPeer(ws *websocket.Conn, id domain.Identity, h relay.Handler, cfg webrtc.Configuration) *Peer {
	return &Peer{
		ws:      ws,
		id:      id,
		handler: h,
		rtcCfg:  cfg,
		logger:  log.With().Str("module", "adapters.peer").Str("peer", string(id)).Logger(),
		send:    make(chan core.Frame, sendBuffer),
		done:    make(chan struct{}),
		links:   make(map[string]*link),
	}
}

func (p *Peer) ID() domain.Identity { return p.id }

func (p *Peer) Call(ctx context.Context, remote domain.Identity, local *media.Stream, md relay.Metadata) (relay.Call, error) {
	if err := p.usable(ctx); err != nil {
		return nil, err
	}
	l, err := p.newLink(remote, core.ConnMedia, uuid.NewString())
	if err != nil {
		return nil, err
	}
	c := newCall(p, l, md)
	if err := l.conn.AddStream(local); err != nil {
		l.conn.Close()
		return nil, fmt.Errorf("call %s: add tracks: %w", remote, err)
	}
	if err := l.conn.AddReceivers(local); err != nil {
		l.conn.Close()
		return nil, fmt.Errorf("call %s: add receivers: %w", remote, err)
	}
	l.onAnswer = c.remoteReady
	if err := p.offer(l, &md); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Peer) Connect(ctx context.Context, remote domain.Identity) (relay.DataConn, error) {
	if err := p.usable(ctx); err != nil {
		return nil, err
	}
	l, err := p.newLink(remote, core.ConnData, uuid.NewString())
	if err != nil {
		return nil, err
	}
	d := newDataConn(p, l)
	dc, err := l.conn.CreateDataChannel("roster")
	if err != nil {
		l.conn.Close()
		return nil, fmt.Errorf("connect %s: %w", remote, err)
	}
	d.bind(dc)
	if err := p.offer(l, nil); err != nil {
		return nil, err
	}
	return d, nil
}

// Destroy closes every connection and the signaling socket. The broker then
// tells our contacts we left.
func (p *Peer) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	links := make([]*link, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	p.links = make(map[string]*link)
	p.mu.Unlock()

	for _, l := range links {
		l.conn.Close()
	}
	p.shutdown()
	p.logger.Info().Int("links", len(links)).Msg("identity destroyed")
	return nil
}

func (p *Peer) shutdown() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = p.ws.Close()
	})
}

func (p *Peer) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.destroyed:
		return relay.ErrDestroyed
	case p.offline:
		return relay.ErrNotOpen
	}
	return nil
}

func (p *Peer) newLink(remote domain.Identity, kind core.ConnKind, id string) (*link, error) {
	conn, err := rtc.NewWebRTCConnection(p.rtcCfg, id)
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}
	l := &link{id: id, remote: remote, kind: kind, conn: conn}
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		p.sendMsg(core.TypeCandidate, remote, core.CandidatePayload{ConnectionID: id, Candidate: ci})
	})

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		conn.Close()
		return nil, relay.ErrDestroyed
	}
	p.links[id] = l
	p.mu.Unlock()
	return l, nil
}

func (p *Peer) dropLink(id string) *link {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.links[id]
	if !ok {
		return nil
	}
	delete(p.links, id)
	return l
}

func (p *Peer) lookup(id string) (*link, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.links[id]
	return l, ok
}

// closeLink closes l locally and tells the remote side when notify is set.
func (p *Peer) closeLink(l *link, notify bool) {
	if p.dropLink(l.id) == nil {
		return
	}
	if notify {
		p.sendMsg(core.TypeLeave, l.remote, core.LeavePayload{ConnectionID: l.id})
	}
	l.conn.Close()
}

func (p *Peer) offer(l *link, md *relay.Metadata) error {
	desc, err := l.conn.CreateAndSetOffer()
	if err != nil {
		p.closeLink(l, false)
		return fmt.Errorf("offer %s: %w", l.remote, err)
	}
	p.sendMsg(core.TypeOffer, l.remote, core.OfferPayload{
		ConnectionID: l.id,
		Kind:         l.kind,
		SDP:          desc.SDP,
		Metadata:     md,
	})
	return nil
}

func (p *Peer) sendMsg(t core.MessageType, dst domain.Identity, payload any) {
	msg, err := core.NewMessage(t, dst, payload)
	if err != nil {
		p.logger.Error().Err(err).Msg("sendMsg marshal")
		return
	}
	frame, err := msg.Encode()
	if err != nil {
		p.logger.Error().Err(err).Msg("sendMsg encode")
		return
	}
	select {
	case p.send <- frame:
	case <-p.done:
	}
}

func (p *Peer) writePump() {
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.send:
			if err := p.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				p.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := p.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				p.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

func (p *Peer) readPump() {
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
			default:
				p.mu.Lock()
				p.offline = true
				p.mu.Unlock()
				p.handler.HandleError(fmt.Errorf("relay connection lost: %w", err))
			}
			return
		}
		var msg core.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logger.Warn().Err(err).Msg("bad json from relay")
			continue
		}
		p.dispatch(msg)
	}
}
