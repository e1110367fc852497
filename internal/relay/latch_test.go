package relay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatchLateListener(t *testing.T) {
	var l Latch[int]
	var got []int
	l.On(func(v int) { got = append(got, v) })
	assert.True(t, l.Fire(7))
	assert.False(t, l.Fire(8))
	l.On(func(v int) { got = append(got, v*10) })
	assert.Equal(t, []int{7, 70}, got)
	assert.True(t, l.Fired())
}

func TestMailboxBuffersUntilHandler(t *testing.T) {
	var mb Mailbox
	mb.Deliver([]byte("a"))
	mb.Deliver([]byte("b"))

	var got []string
	mb.SetHandler(func(b []byte) { got = append(got, string(b)) })
	mb.Deliver([]byte("c"))
	assert.Equal(t, []string{"a", "b", "c"}, got)

	mb.Close()
	mb.Deliver([]byte("d"))
	assert.Len(t, got, 3)
}

func TestMailboxKeepsOrderAcrossGoroutines(t *testing.T) {
	var mb Mailbox
	var mu sync.Mutex
	var got []byte
	mb.SetHandler(func(b []byte) {
		mu.Lock()
		got = append(got, b...)
		mu.Unlock()
	})
	for i := 0; i < 100; i++ {
		mb.Deliver([]byte{byte(i)})
	}
	mu.Lock()
	defer mu.Unlock()
	for i, b := range got {
		assert.Equal(t, byte(i), b)
	}
	assert.Len(t, got, 100)
}
