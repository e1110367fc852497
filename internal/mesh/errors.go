package mesh

import (
	"errors"
	"fmt"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/rs/zerolog"
)

var (
	ErrNotHost         = errors.New("only the host can do this")
	ErrEnded           = errors.New("meeting ended")
	ErrNoLocalStream   = errors.New("no local stream")
	ErrRoomUnavailable = errors.New("room unavailable")
	ErrAlreadyStarted  = errors.New("meeting already started")
)

type ErrorKind string

const (
	KindMedia           ErrorKind = "media"
	KindRelay           ErrorKind = "relay"
	KindData            ErrorKind = "data"
	KindProtocol        ErrorKind = "protocol"
	KindRoomUnavailable ErrorKind = "room-unavailable"
	KindRecording       ErrorKind = "recording"
)

// Error is a failed relay, media or protocol operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Peer domain.Identity
	Err  error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Kind, e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorSink receives every failure of the mesh. Report must not block.
type ErrorSink interface {
	Report(*Error)
}

type ErrorSinkFunc func(*Error)

func (f ErrorSinkFunc) Report(e *Error) { f(e) }

// LogSink writes errors to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Report(e *Error) {
	ev := s.Logger.Error()
	if e.Kind == KindData || e.Kind == KindProtocol {
		ev = s.Logger.Warn()
	}
	ev.Str("kind", string(e.Kind)).
		Str("op", e.Op).
		Str("peer", string(e.Peer)).
		Err(e.Err).
		Msg("mesh error")
}
