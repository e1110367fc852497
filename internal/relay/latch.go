package relay

import "sync"

// Latch is a one-shot event. Listeners added after Fire run immediately with
// the fired value.
type Latch[T any] struct {
	mu    sync.Mutex
	fired bool
	val   T
	fns   []func(T)
}

// Fire records v and runs the listeners. Only the first call counts.
func (l *Latch[T]) Fire(v T) bool {
	l.mu.Lock()
	if l.fired {
		l.mu.Unlock()
		return false
	}
	l.fired = true
	l.val = v
	fns := l.fns
	l.fns = nil
	l.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
	return true
}

func (l *Latch[T]) On(fn func(T)) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if !l.fired {
		l.fns = append(l.fns, fn)
		l.mu.Unlock()
		return
	}
	v := l.val
	l.mu.Unlock()
	fn(v)
}

func (l *Latch[T]) Fired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fired
}

// Mailbox buffers payloads until a handler is set, then delivers them in
// order, one at a time.
type Mailbox struct {
	mu       sync.Mutex
	handler  func([]byte)
	queue    [][]byte
	draining bool
	closed   bool
}

func (m *Mailbox) Deliver(b []byte) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, b)
	m.mu.Unlock()
	m.drain()
}

func (m *Mailbox) SetHandler(fn func([]byte)) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
	m.drain()
}

// Close ignores later deliveries. Payloads already buffered still reach the
// handler.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Mailbox) drain() {
	m.mu.Lock()
	if m.draining || m.handler == nil {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 && m.handler != nil {
		b := m.queue[0]
		m.queue = m.queue[1:]
		fn := m.handler
		m.mu.Unlock()
		fn(b)
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}
