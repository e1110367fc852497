package memory

import (
	"sync"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/media"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/google/uuid"
)

type call struct {
	owner   *Peer
	other   *call
	peer    domain.Identity
	md      relay.Metadata
	offered *media.Stream

	stream relay.Latch[*media.Stream]
	closed relay.Latch[struct{}]

	answerOnce sync.Once
}

func (c *call) Peer() domain.Identity           { return c.peer }
func (c *call) Metadata() relay.Metadata        { return c.md }
func (c *call) OnStream(fn func(*media.Stream)) { c.stream.On(fn) }
func (c *call) OnClose(fn func())               { c.closed.On(func(struct{}) { fn() }) }

// Answer sends local to the caller and hands the caller's stream to this side.
// Both sides receive mirrors, never the sender's objects.
func (c *call) Answer(local *media.Stream) error {
	if c.closed.Fired() {
		return relay.ErrNotOpen
	}
	c.answerOnce.Do(func() {
		toCaller := mirror(local)
		toCallee := mirror(c.offered)
		go c.other.stream.Fire(toCaller)
		go c.stream.Fire(toCallee)
	})
	return nil
}

func (c *call) Close() error {
	c.shut()
	c.other.shut()
	return nil
}

func (c *call) shut() {
	c.owner.untrack(c)
	go c.closed.Fire(struct{}{})
}

// mirror copies s the way a remote receiver sees it. A missing stream still
// yields an empty one so the answer event carries something to bind.
func mirror(s *media.Stream) *media.Stream {
	if s == nil {
		return media.NewStream(uuid.NewString())
	}
	return s.Mirror()
}
