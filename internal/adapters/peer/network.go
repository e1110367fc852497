// Package peer implements the relay contract on top of the broker's
// WebSocket signaling and pion PeerConnections.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dkeye/meetsync/internal/core"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/relay"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

var ErrRateLimited = errors.New("relay rate limited")

const openTimeout = 10 * time.Second

type Config struct {
	RelayURL string
	WebRTC   webrtc.Configuration
	Dialer   *websocket.Dialer
}

type Network struct {
	cfg Config
}

func NewNetwork(cfg Config) *Network {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Network{cfg: cfg}
}

// Open dials the broker and waits for it to confirm the identity.
func (n *Network) Open(ctx context.Context, preferred domain.Identity, h relay.Handler) (relay.Peer, error) {
	u, err := url.Parse(n.cfg.RelayURL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	if preferred != "" {
		q := u.Query()
		q.Set("id", string(preferred))
		u.RawQuery = q.Encode()
	}

	ws, resp, err := n.cfg.Dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("open %s: %w", preferred, ErrRateLimited)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	deadline := time.Now().Add(openTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	var msg core.Message
	if err := ws.ReadJSON(&msg); err != nil {
		ws.Close()
		return nil, fmt.Errorf("await open: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	switch msg.Type {
	case core.TypeOpen:
		var p core.OpenPayload
		if err := msg.Decode(&p); err != nil {
			ws.Close()
			return nil, err
		}
		peer := newPeer(ws, p.ID, h, n.cfg.WebRTC)
		go peer.writePump()
		go peer.readPump()
		return peer, nil
	case core.TypeIDTaken:
		ws.Close()
		return nil, fmt.Errorf("open %s: %w", preferred, relay.ErrIdentityTaken)
	default:
		ws.Close()
		return nil, fmt.Errorf("open %s: unexpected %q", preferred, msg.Type)
	}
}
