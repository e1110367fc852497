package mesh

import (
	"time"

	"github.com/dkeye/meetsync/internal/media"
	"github.com/dkeye/meetsync/internal/roster"
)

const (
	DefaultHostName      = "Host"
	DefaultNotifyTimeout = 3 * time.Second
)

// Recording is the part of the recorder the meeting stops on teardown.
type Recording interface {
	Active() bool
	Stop() error
}

type Option func(*Manager)

// WithHostName sets the name guests give the host they dialed.
func WithHostName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.hostName = name
		}
	}
}

// WithNotifyTimeout bounds how long EndMeeting waits for remove-user sends.
func WithNotifyTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.notifyTimeout = d
		}
	}
}

func WithErrorSink(s ErrorSink) Option {
	return func(m *Manager) {
		if s != nil {
			m.sink = s
		}
	}
}

func WithCodec(c roster.Codec) Option {
	return func(m *Manager) {
		if c != nil {
			m.codec = c
		}
	}
}

func WithConstraints(c media.Constraints) Option {
	return func(m *Manager) { m.constraints = c }
}

func WithRecording(r Recording) Option {
	return func(m *Manager) { m.recording = r }
}
