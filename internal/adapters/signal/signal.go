package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/meetsync/internal/app/orch"
	"github.com/dkeye/meetsync/internal/core"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Settings struct {
	ReadLimit     int64
	PingPeriod    time.Duration
	SendBuffer    int
	ClaimLimit    int
	ClaimInterval time.Duration
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Limiter  *ClaimLimiter
	settings Settings
}

func NewSignalWSController(o *orch.Orchestrator, s Settings) *SignalWSController {
	if s.SendBuffer <= 0 {
		s.SendBuffer = 64
	}
	if s.PingPeriod <= 0 {
		s.PingPeriod = 54 * time.Second
	}
	if s.ClaimLimit <= 0 {
		s.ClaimLimit = 20
	}
	if s.ClaimInterval <= 0 {
		s.ClaimInterval = time.Minute
	}
	return &SignalWSController{
		Orch:     o,
		Limiter:  NewClaimLimiter(s.ClaimLimit, s.ClaimInterval),
		settings: s,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and claims the identity given in the id
// query parameter, or a fresh one.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	id := domain.Identity(c.Query("id"))
	if id == "" {
		id = domain.Identity(uuid.NewString())
	}
	logger := log.With().Str("module", "signal").Str("token", token).Str("id", string(id)).Logger()

	if len(id) > domain.MaxIdentityLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity too long"})
		return
	}
	if !ctl.Limiter.Allow(token) {
		logger.Warn().Msg("claim rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many identity claims"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.settings.ReadLimit > 0 {
		ws.SetReadLimit(ctl.settings.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.settings.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	sess := core.ClientSession{ID: id, Token: token, Signal: conn}
	if err := ctl.Orch.Registry.Claim(sess, cancel); err != nil {
		logger.Info().Err(err).Msg("identity taken")
		cancel()
		ctl.rejectTaken(ws)
		return
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, id, conn)
	ctl.sendMessage(conn, core.TypeOpen, core.OpenPayload{ID: id})
	logger.Info().Msg("new WS connection")
}

func (ctl *SignalWSController) rejectTaken(ws *websocket.Conn) {
	frame, err := core.Message{Type: core.TypeIDTaken}.Encode()
	if err == nil {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "id-taken"),
		time.Now().Add(writeWait))
	_ = ws.Close()
}
