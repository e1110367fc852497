package memory

import (
	"sync/atomic"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/relay"
)

type dataConn struct {
	owner *Peer
	other *dataConn
	peer  domain.Identity

	open   relay.Latch[struct{}]
	closed relay.Latch[struct{}]
	errs   relay.Latch[error]
	inbox  relay.Mailbox
	done   atomic.Bool
}

func (c *dataConn) Peer() domain.Identity  { return c.peer }
func (c *dataConn) OnOpen(fn func())       { c.open.On(func(struct{}) { fn() }) }
func (c *dataConn) OnData(fn func([]byte)) { c.inbox.SetHandler(fn) }
func (c *dataConn) OnClose(fn func())      { c.closed.On(func(struct{}) { fn() }) }
func (c *dataConn) OnError(fn func(error)) { c.errs.On(fn) }

// Send copies b into the remote inbox.
func (c *dataConn) Send(b []byte) error {
	if c.done.Load() || !c.open.Fired() {
		return relay.ErrNotOpen
	}
	buf := make([]byte, len(b))
	copy(buf, b)
	c.other.inbox.Deliver(buf)
	return nil
}

func (c *dataConn) Close() error {
	c.shut()
	c.other.shut()
	return nil
}

func (c *dataConn) shut() {
	if c.done.Swap(true) {
		return
	}
	c.owner.untrackConn(c)
	c.inbox.Close()
	go c.closed.Fire(struct{}{})
}
