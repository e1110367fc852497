package signal

import (
	"github.com/dkeye/meetsync/internal/core"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offer, answer, candidate and leave messages. The
// broker never looks into SDP or candidates.
func (ctl *SignalWSController) handleRelay(
	id domain.Identity,
	conn *WsSignalConn,
	msg core.Message,
) {
	if msg.Dst == "" {
		log.Warn().Str("module", "signal").Str("id", string(id)).Str("type", string(msg.Type)).Msg("relay without dst")
		ctl.sendError(conn, "missing_dst")
		return
	}
	if msg.Dst == id {
		ctl.sendError(conn, "self_dst")
		return
	}
	ctl.Orch.Route(id, msg)
}
