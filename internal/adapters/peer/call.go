package peer

import (
	"sync"

	"github.com/dkeye/meetsync/internal/core"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/media"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/pion/webrtc/v4"
)

type call struct {
	peer *Peer
	link *link
	md   relay.Metadata

	stream relay.Latch[*media.Stream]
	closed relay.Latch[struct{}]

	mu         sync.Mutex
	remote     *media.Stream
	answerOnce sync.Once
	answerErr  error
}

func newCall(p *Peer, l *link, md relay.Metadata) *call {
	c := &call{peer: p, link: l, md: md}
	l.conn.OnTrack(c.onTrack)
	l.conn.OnClosed(func() {
		p.dropLink(l.id)
		c.closed.Fire(struct{}{})
	})
	return c
}

func (c *call) Peer() domain.Identity           { return c.link.remote }
func (c *call) Metadata() relay.Metadata        { return c.md }
func (c *call) OnStream(fn func(*media.Stream)) { c.stream.On(fn) }
func (c *call) OnClose(fn func())               { c.closed.On(func(struct{}) { fn() }) }

// Answer adds local tracks to the inbound call and sends the answer.
func (c *call) Answer(local *media.Stream) error {
	if c.closed.Fired() {
		return relay.ErrNotOpen
	}
	c.answerOnce.Do(func() {
		if err := c.link.conn.AddStream(local); err != nil {
			c.answerErr = err
			return
		}
		answer, err := c.link.conn.CreateAndSetAnswer()
		if err != nil {
			c.answerErr = err
			return
		}
		c.peer.sendMsg(core.TypeAnswer, c.link.remote, core.AnswerPayload{ConnectionID: c.link.id, SDP: answer.SDP})
		c.remoteReady()
	})
	return c.answerErr
}

func (c *call) Close() error {
	c.peer.closeLink(c.link, true)
	c.closed.Fire(struct{}{})
	return nil
}

// remoteReady emits the remote stream once negotiation is done. It does not
// wait for media: tracks that never send a packet still leave the call with
// a stream, and tracks join it as they start flowing.
func (c *call) remoteReady() {
	id := c.link.conn.RemoteStreamID()
	if id == "" {
		id = "conn-" + c.link.id
	}
	if s, created := c.remoteStream(id); created {
		c.peer.logger.Debug().Str("conn", c.link.id).Str("stream", id).
			Int("sending", c.link.conn.RemoteSendCount()).Msg("remote stream ready")
		c.stream.Fire(s)
	}
}

// remoteStream returns the call's remote stream, creating it with id when
// none exists yet.
func (c *call) remoteStream(id string) (*media.Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote != nil {
		return c.remote, false
	}
	c.remote = media.NewStream(id)
	return c.remote, true
}

func (c *call) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	s, created := c.remoteStream(track.StreamID())
	s.AddTrack(media.NewRemoteTrack(track))
	if created {
		c.stream.Fire(s)
	}
}
