package rtc

import (
	"errors"
	"strings"
	"sync"

	"github.com/dkeye/meetsync/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ICEOptions selects the ICE servers of every peer connection.
type ICEOptions struct {
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return WebRTCConfig(ICEOptions{STUNServers: []string{"stun:stun.l.google.com:19302"}})
}

func WebRTCConfig(o ICEOptions) webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(o.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: o.STUNServers})
	}
	if o.TURNServer != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:           []string{o.TURNServer},
			Username:       o.TURNUser,
			Credential:     o.TURNPass,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// WebRTCConnection wraps one PeerConnection with trickle ICE. Remote
// candidates that arrive before the remote description are held back.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onClosed func()
	onData   func(*webrtc.DataChannel)

	closeOnce sync.Once
}

func NewWebRTCConnection(cfg webrtc.Configuration, connID string) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &WebRTCConnection{
		pc:     pc,
		logger: log.With().Str("module", "webrtc").Str("conn", connID).Logger(),
	}
	c.start()
	return c, nil
}

func (c *WebRTCConnection) start() {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Debug().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			c.Close()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if cand != nil && fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(track, receiver)
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.mu.Lock()
		fn := c.onData
		c.mu.Unlock()
		if fn != nil {
			fn(dc)
		}
	})
}

// AddStream attaches every local track of s. A nil stream adds nothing.
func (c *WebRTCConnection) AddStream(s *media.Stream) error {
	if s == nil {
		return nil
	}
	for _, t := range s.Tracks() {
		if t.Local() == nil {
			continue
		}
		sender, err := c.pc.AddTrack(t.Local())
		if err != nil {
			return err
		}
		go drainRTCP(sender)
	}
	return nil
}

// AddReceivers adds receive-only transceivers for kinds s does not send.
func (c *WebRTCConnection) AddReceivers(s *media.Stream) error {
	kinds := map[media.Kind]webrtc.RTPCodecType{
		media.KindAudio: webrtc.RTPCodecTypeAudio,
		media.KindVideo: webrtc.RTPCodecTypeVideo,
	}
	for kind, codec := range kinds {
		if s != nil && hasLocal(s, kind) {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(codec, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

func hasLocal(s *media.Stream, kind media.Kind) bool {
	for _, t := range s.Tracks() {
		if t.Kind() == kind && t.Local() != nil {
			return true
		}
	}
	return false
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *WebRTCConnection) CreateDataChannel(label string) (*webrtc.DataChannel, error) {
	ordered := true
	return c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
}

func (c *WebRTCConnection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

// SetRemoteDescription applies desc and flushes held back candidates.
func (c *WebRTCConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	var errs []error
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *WebRTCConnection) CreateAndSetAnswer() (*webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

// RemoteSendCount counts the audio and video sections the remote side sends on.
func (c *WebRTCConnection) RemoteSendCount() int {
	desc := c.pc.RemoteDescription()
	if desc == nil {
		return 0
	}
	parsed, err := desc.Unmarshal()
	if err != nil {
		c.logger.Warn().Err(err).Msg("parse remote sdp")
		return 0
	}
	n := 0
	for _, md := range parsed.MediaDescriptions {
		switch md.MediaName.Media {
		case "audio", "video":
		default:
			continue
		}
		_, sendrecv := md.Attribute("sendrecv")
		_, sendonly := md.Attribute("sendonly")
		if sendrecv || sendonly {
			n++
		}
	}
	return n
}

// RemoteStreamID returns the stream id the remote side announces on its first
// sending media section, or "" when it sends nothing.
func (c *WebRTCConnection) RemoteStreamID() string {
	desc := c.pc.RemoteDescription()
	if desc == nil {
		return ""
	}
	parsed, err := desc.Unmarshal()
	if err != nil {
		return ""
	}
	for _, md := range parsed.MediaDescriptions {
		if md.MediaName.Media != "audio" && md.MediaName.Media != "video" {
			continue
		}
		_, sendrecv := md.Attribute("sendrecv")
		_, sendonly := md.Attribute("sendonly")
		if !sendrecv && !sendonly {
			continue
		}
		if msid, ok := md.Attribute("msid"); ok {
			if id, _, _ := strings.Cut(msid, " "); id != "" && id != "-" {
				return id
			}
		}
	}
	return ""
}

func (c *WebRTCConnection) Close() {
	c.closeOnce.Do(func() {
		if err := c.pc.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close error")
		} else {
			c.logger.Debug().Msg("closed")
		}
		c.mu.Lock()
		fn := c.onClosed
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnDataChannel(fn func(*webrtc.DataChannel)) {
	c.mu.Lock()
	c.onData = fn
	c.mu.Unlock()
}

// OnClosed sets application-level callback for cleanup.
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}
