package peer

import (
	"fmt"

	"github.com/dkeye/meetsync/internal/core"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/pion/webrtc/v4"
)

func (p *Peer) dispatch(msg core.Message) {
	logger := p.logger.With().Str("type", string(msg.Type)).Str("src", string(msg.Src)).Logger()

	switch msg.Type {
	case core.TypeOffer:
		var pl core.OfferPayload
		if err := msg.Decode(&pl); err != nil {
			logger.Warn().Err(err).Msg("bad offer")
			return
		}
		p.handleOffer(msg.Src, pl)

	case core.TypeAnswer:
		var pl core.AnswerPayload
		if err := msg.Decode(&pl); err != nil {
			logger.Warn().Err(err).Msg("bad answer")
			return
		}
		l, ok := p.lookup(pl.ConnectionID)
		if !ok {
			return
		}
		if err := l.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: pl.SDP}); err != nil {
			logger.Error().Err(err).Str("conn", l.id).Msg("apply answer")
			p.closeLink(l, true)
			return
		}
		if l.onAnswer != nil {
			l.onAnswer()
		}

	case core.TypeCandidate:
		var pl core.CandidatePayload
		if err := msg.Decode(&pl); err != nil {
			logger.Warn().Err(err).Msg("bad candidate")
			return
		}
		if l, ok := p.lookup(pl.ConnectionID); ok {
			if err := l.conn.AddICECandidate(pl.Candidate); err != nil {
				logger.Warn().Err(err).Str("conn", l.id).Msg("add ice candidate")
			}
		}

	case core.TypeLeave:
		var pl core.LeavePayload
		if len(msg.Payload) > 0 {
			_ = msg.Decode(&pl)
		}
		p.handleLeave(msg.Src, pl.ConnectionID)

	case core.TypeExpire:
		var pl struct {
			ConnectionID string `json:"connectionId"`
		}
		if len(msg.Payload) > 0 {
			_ = msg.Decode(&pl)
		}
		if l, ok := p.lookup(pl.ConnectionID); ok {
			p.closeLink(l, false)
		}
		p.handler.HandleError(fmt.Errorf("%s: %w", msg.Src, relay.ErrPeerUnavailable))

	case core.TypeError:
		var pl core.ErrorPayload
		_ = msg.Decode(&pl)
		p.handler.HandleError(fmt.Errorf("relay error: %s", pl.Message))

	case core.TypePong:

	default:
		logger.Warn().Msg("unknown message from relay")
	}
}

func (p *Peer) handleOffer(src domain.Identity, pl core.OfferPayload) {
	l, err := p.newLink(src, pl.Kind, pl.ConnectionID)
	if err != nil {
		p.logger.Error().Err(err).Str("remote", string(src)).Msg("inbound link")
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: pl.SDP}

	switch pl.Kind {
	case core.ConnMedia:
		var md relay.Metadata
		if pl.Metadata != nil {
			md = *pl.Metadata
		}
		c := newCall(p, l, md)
		if err := l.conn.SetRemoteDescription(offer); err != nil {
			p.logger.Error().Err(err).Str("remote", string(src)).Msg("apply offer")
			p.closeLink(l, true)
			return
		}
		p.handler.HandleCall(c)

	case core.ConnData:
		d := newDataConn(p, l)
		l.conn.OnDataChannel(d.bind)
		if err := l.conn.SetRemoteDescription(offer); err != nil {
			p.logger.Error().Err(err).Str("remote", string(src)).Msg("apply offer")
			p.closeLink(l, true)
			return
		}
		answer, err := l.conn.CreateAndSetAnswer()
		if err != nil {
			p.logger.Error().Err(err).Str("remote", string(src)).Msg("answer data offer")
			p.closeLink(l, true)
			return
		}
		p.sendMsg(core.TypeAnswer, src, core.AnswerPayload{ConnectionID: l.id, SDP: answer.SDP})
		p.handler.HandleConnection(d)

	default:
		p.logger.Warn().Str("kind", string(pl.Kind)).Msg("unknown offer kind")
		p.closeLink(l, true)
	}
}

// handleLeave closes one connection, or every connection to src when connID
// is empty.
func (p *Peer) handleLeave(src domain.Identity, connID string) {
	if connID != "" {
		if l, ok := p.lookup(connID); ok && l.remote == src {
			p.closeLink(l, false)
		}
		return
	}
	p.mu.Lock()
	var gone []*link
	for _, l := range p.links {
		if l.remote == src {
			gone = append(gone, l)
		}
	}
	p.mu.Unlock()
	for _, l := range gone {
		p.closeLink(l, false)
	}
}
