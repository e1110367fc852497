package orch

import (
	"github.com/dkeye/meetsync/internal/app"
	"github.com/dkeye/meetsync/internal/core"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Policy   app.Policy
}

// Route forwards msg from src to msg.Dst. An unknown destination answers
// src with expire.
func (o *Orchestrator) Route(src domain.Identity, msg core.Message) {
	dst := msg.Dst
	msg.Src = src
	msg.Dst = ""

	if _, ok := o.Registry.Lookup(dst); !ok {
		log.Debug().Str("module", "orch").Str("src", string(src)).Str("dst", string(dst)).Str("type", string(msg.Type)).Msg("destination gone")
		if msg.Type == core.TypeLeave {
			return
		}
		o.Deliver(src, core.Message{Type: core.TypeExpire, Src: dst, Payload: msg.Payload})
		return
	}
	o.Registry.Touch(src, dst)
	o.Deliver(dst, msg)
}

// Deliver sends msg to id, applying the backpressure policy on a full queue.
func (o *Orchestrator) Deliver(id domain.Identity, msg core.Message) bool {
	conn, ok := o.Registry.Lookup(id)
	if !ok {
		return false
	}
	frame, err := msg.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode message")
		return false
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("id", string(id)).Msg("send failed")
		o.onBackPressure(id)
		return false
	}
	return true
}

func (o *Orchestrator) onBackPressure(id domain.Identity) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(id) {
	case app.KickClient:
		o.Kick(id)
	case app.DropFrame, app.NoAction:
	}
}
