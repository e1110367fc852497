package mesh

import (
	"fmt"
	"sync"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/dkeye/meetsync/internal/roster"
)

// dialHost calls the room's host and asks it for the roster.
func (m *Manager) dialHost(host domain.Identity) {
	m.placeCall(roster.ParticipantInfo{ID: host, Name: m.hostName, IsAdmin: true})

	conn, err := m.peer.Connect(m.ctx, host)
	if err != nil {
		m.report(KindData, "connect", host, err)
		return
	}
	m.watchConn(conn)
	self, name := m.self, m.userName
	conn.OnOpen(func() {
		m.post(func() {
			m.send(conn, roster.NewUser{UserID: self, UserName: name})
			m.send(conn, roster.GetParticipants{})
		})
	})
}

// sendOnOpen opens a data connection to remote and sends msg once it is up.
// sent, if not nil, is closed after the attempt whatever its outcome.
func (m *Manager) sendOnOpen(remote domain.Identity, msg roster.Message, sent chan struct{}) {
	var once sync.Once
	signal := func() {
		if sent != nil {
			once.Do(func() { close(sent) })
		}
	}

	conn, err := m.peer.Connect(m.ctx, remote)
	if err != nil {
		m.report(KindData, "connect", remote, err)
		signal()
		return
	}
	m.watchConn(conn)
	conn.OnOpen(func() {
		if !m.post(func() {
			m.send(conn, msg)
			signal()
		}) {
			signal()
		}
	})
	conn.OnClose(signal)
}

func (m *Manager) notifyRemoval(id domain.Identity, sent chan struct{}) {
	m.sendOnOpen(id, roster.RemoveUser{UserID: id}, sent)
}

func (m *Manager) announce(nu roster.NewUser) {
	newcomer := roster.ParticipantInfo{ID: nu.UserID, Name: nu.UserName}
	for _, info := range m.others(nu.UserID) {
		if info.ID == m.self {
			continue
		}
		m.sendOnOpen(info.ID, roster.NewParticipant{Participant: newcomer}, nil)
	}
}

func (m *Manager) acceptConn(c relay.DataConn) {
	if m.ended {
		c.Close()
		return
	}
	m.watchConn(c)
}

func (m *Manager) watchConn(c relay.DataConn) {
	m.conns[c] = struct{}{}
	c.OnData(func(b []byte) {
		m.post(func() { m.handleData(c, b) })
	})
	c.OnClose(func() {
		m.post(func() { delete(m.conns, c) })
	})
	c.OnError(func(err error) {
		m.report(KindData, "data", c.Peer(), err)
	})
}

func (m *Manager) send(c relay.DataConn, msg roster.Message) {
	b, err := m.codec.Encode(msg)
	if err != nil {
		m.report(KindProtocol, "encode "+string(msg.Kind()), c.Peer(), err)
		return
	}
	if err := c.Send(b); err != nil {
		m.report(KindData, "send "+string(msg.Kind()), c.Peer(), err)
	}
}

func (m *Manager) handleData(c relay.DataConn, b []byte) {
	if m.ended {
		return
	}
	from := c.Peer()
	msg, err := m.codec.Decode(b)
	if err != nil {
		m.report(KindProtocol, "decode", from, err)
		return
	}
	logger := m.logger.With().Str("peer", string(from)).Str("type", string(msg.Kind())).Logger()
	logger.Debug().Msg("roster message")

	switch msg := msg.(type) {
	case roster.GetParticipants:
		if !m.isAdmin {
			logger.Debug().Msg("not host, ignored")
			return
		}
		m.send(c, roster.ExistingParticipants{Participants: m.others(from)})

	case roster.ExistingParticipants:
		for _, p := range msg.Participants {
			m.placeCall(p)
		}

	case roster.NewUser:
		if !m.isAdmin {
			logger.Debug().Msg("not host, ignored")
			return
		}
		m.announce(msg)

	case roster.NewParticipant:
		m.placeCall(msg.Participant)

	case roster.RemoveUser:
		if msg.UserID != m.self {
			logger.Debug().Str("user", string(msg.UserID)).Msg("remove-user for someone else, ignored")
			return
		}
		logger.Info().Msg("removed from meeting")
		m.teardown()

	default:
		m.report(KindProtocol, "dispatch", from, fmt.Errorf("%w: %T", roster.ErrUnknownMessage, msg))
	}
}
