package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleAuthenticate(
	ctx context.Context,
	conn *WsSignalConn,
	data []byte,
) {
	type authPayload struct {
		Type       string `json:"type"`
		Credential string `json:"credential"`
	}
	var p authPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad authenticate payload")
		ctl.sendJSON(conn, orch.Authenticated{Type: orch.EventAuthenticated, Reason: reasonBadPayload})
		return
	}

	handle, err := ctl.Orch.Authenticate(ctx, conn.id, p.Credential)
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(conn.id)).Msg("authenticate failed")
		return
	}
	log.Debug().Str("module", "signal").Str("conn", string(conn.id)).Str("handle", string(handle)).Msg("authenticate ok")
}
