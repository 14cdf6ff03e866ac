package signal

import "github.com/dkeye/Meet/internal/app/orch"

const reasonBadPayload = orch.ReasonBadPayload

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, typ, reason string) {
	if typ == "" {
		typ = orch.EventError
	}
	ctl.sendJSON(conn, orch.Failure{Type: typ, Reason: reason})
}
