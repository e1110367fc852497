package peer

import (
	"sync"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/pion/webrtc/v4"
)

type dataConn struct {
	peer *Peer
	link *link

	open   relay.Latch[struct{}]
	closed relay.Latch[struct{}]
	inbox  relay.Mailbox

	mu    sync.Mutex
	dc    *webrtc.DataChannel
	onErr func(error)
}

func newDataConn(p *Peer, l *link) *dataConn {
	d := &dataConn{peer: p, link: l}
	l.conn.OnClosed(func() {
		p.dropLink(l.id)
		d.inbox.Close()
		d.closed.Fire(struct{}{})
	})
	return d
}

func (d *dataConn) bind(dc *webrtc.DataChannel) {
	d.mu.Lock()
	d.dc = dc
	d.mu.Unlock()

	dc.OnOpen(func() { d.open.Fire(struct{}{}) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { d.inbox.Deliver(msg.Data) })
	dc.OnClose(func() { d.peer.closeLink(d.link, false) })
	dc.OnError(func(err error) {
		d.mu.Lock()
		fn := d.onErr
		d.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

func (d *dataConn) Peer() domain.Identity  { return d.link.remote }
func (d *dataConn) OnOpen(fn func())       { d.open.On(func(struct{}) { fn() }) }
func (d *dataConn) OnData(fn func([]byte)) { d.inbox.SetHandler(fn) }
func (d *dataConn) OnClose(fn func())      { d.closed.On(func(struct{}) { fn() }) }

func (d *dataConn) OnError(fn func(error)) {
	d.mu.Lock()
	d.onErr = fn
	d.mu.Unlock()
}

func (d *dataConn) Send(b []byte) error {
	d.mu.Lock()
	dc := d.dc
	d.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return relay.ErrNotOpen
	}
	return dc.Send(b)
}

func (d *dataConn) Close() error {
	d.peer.closeLink(d.link, true)
	d.closed.Fire(struct{}{})
	return nil
}
