package orch

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Signal forwards an offer, answer or ice-candidate from conn to the holder of
// target. Anything that cannot be routed is dropped without telling the sender.
func (o *Orchestrator) Signal(ctx context.Context, kind app.Kind, conn domain.ConnID, target domain.CallHandle, payload json.RawMessage) bool {
	route, err := o.Relay.Resolve(ctx, conn, target)
	if err != nil {
		o.Metrics.IncDropped(string(kind))
		log.Debug().Err(err).Str("module", "orch").Str("kind", string(kind)).Str("conn", string(conn)).Str("target", string(target)).Msg("signal dropped")
		return false
	}

	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	err = o.Deliver(route.TargetConn, route.Target, Signal{
		Type:    string(kind),
		Sender:  route.Sender.CallHandle,
		Payload: payload,
	})
	if err != nil {
		o.Metrics.IncDropped(string(kind))
		log.Debug().Err(err).Str("module", "orch").Str("kind", string(kind)).Str("target", string(target)).Msg("signal not delivered")
		return false
	}
	o.Metrics.IncRelayed(string(kind))
	return true
}
