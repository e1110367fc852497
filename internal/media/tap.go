package media

import (
	"io"
	"sync"

	"github.com/pion/rtp"
)

const tapBuffer = 256

// Tap fans RTP packets of a local track out to recorders. Slow readers lose
// packets instead of stalling the publisher.
type Tap struct {
	mu     sync.Mutex
	subs   map[*TapReader]struct{}
	closed bool
}

func NewTap() *Tap {
	return &Tap{subs: make(map[*TapReader]struct{})}
}

func (t *Tap) Publish(pkt *rtp.Packet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for r := range t.subs {
		select {
		case r.ch <- pkt:
		default:
		}
	}
}

func (t *Tap) Subscribe() *TapReader {
	r := &TapReader{tap: t, ch: make(chan *rtp.Packet, tapBuffer), done: make(chan struct{})}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(r.done)
		return r
	}
	t.subs[r] = struct{}{}
	return r
}

func (t *Tap) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	subs := t.subs
	t.subs = make(map[*TapReader]struct{})
	t.mu.Unlock()
	for r := range subs {
		r.once.Do(func() { close(r.done) })
	}
}

type TapReader struct {
	tap  *Tap
	ch   chan *rtp.Packet
	done chan struct{}
	once sync.Once
}

// ReadRTP blocks for the next packet. It returns io.EOF once the reader or
// its tap is closed and the buffer is drained.
func (r *TapReader) ReadRTP() (*rtp.Packet, error) {
	select {
	case pkt := <-r.ch:
		return pkt, nil
	case <-r.done:
		select {
		case pkt := <-r.ch:
			return pkt, nil
		default:
			return nil, io.EOF
		}
	}
}

func (r *TapReader) Close() error {
	r.tap.mu.Lock()
	delete(r.tap.subs, r)
	r.tap.mu.Unlock()
	r.once.Do(func() { close(r.done) })
	return nil
}
