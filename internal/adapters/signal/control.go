package signal

import "github.com/dkeye/meetsync/internal/core"

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	ctl.sendMessage(conn, core.TypePong, nil)
}
