package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// relayPayload carries an offer, answer or ice-candidate. Payload is passed
// through untouched.
type relayPayload struct {
	Type    string            `json:"type"`
	Target  domain.CallHandle `json:"target"`
	Payload json.RawMessage   `json:"payload"`
}

func (ctl *SignalWSController) handleRelay(
	ctx context.Context,
	conn *WsSignalConn,
	kind string,
	data []byte,
) {
	var p relayPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Target == "" {
		log.Debug().Err(err).Str("module", "signal").Str("kind", kind).Msg("bad relay payload, dropped")
		return
	}
	ctl.Orch.Signal(ctx, app.Kind(kind), conn.id, p.Target, p.Payload)
}
