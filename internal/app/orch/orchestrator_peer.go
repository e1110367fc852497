package orch

import (
	"github.com/dkeye/meetsync/internal/core"
	"github.com/dkeye/meetsync/internal/domain"
	"github.com/rs/zerolog/log"
)

// Disconnect releases id held by conn and tells every contact it left.
func (o *Orchestrator) Disconnect(id domain.Identity, conn core.SignalConnection) {
	contacts := o.Registry.Release(id, conn)
	for _, c := range contacts {
		o.Deliver(c, core.Message{Type: core.TypeLeave, Src: id})
	}
	log.Info().Str("module", "orch").Str("id", string(id)).Int("notified", len(contacts)).Msg("peer disconnected")
}

// Kick drops the connection of id. Its read pump then runs Disconnect.
func (o *Orchestrator) Kick(id domain.Identity) {
	if o.Registry.Cancel(id) {
		log.Info().Str("module", "orch").Str("id", string(id)).Msg("peer kicked")
	}
}
