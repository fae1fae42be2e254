package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

func (ctl *EventWSController) handlePing(conn *WsSignalConn) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

// handleSubscribe replaces the connection's event filter. The session cookie
// is not touched; it only seeds new connections.
func (ctl *EventWSController) handleSubscribe(conn *WsSignalConn, data []byte) {
	var p struct {
		Type  string   `json:"type"`
		Kinds []string `json:"kinds"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad subscribe payload")
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	kinds, err := ParseKinds(p.Kinds...)
	if err != nil {
		ctl.sendJSON(conn, map[string]any{"type": "error", "error": err.Error()})
		return
	}
	conn.setKinds(kinds)
	ctl.sendJSON(conn, map[string]any{"type": "subscribed", "kinds": kinds.Names()})
}

func (ctl *EventWSController) handleWhoAmI(token string, conn *WsSignalConn) {
	conn.mu.RLock()
	dropped := conn.dropped
	conn.mu.RUnlock()

	resp := struct {
		Type    string   `json:"type"`
		Client  string   `json:"client"`
		Kinds   []string `json:"kinds"`
		Dropped int      `json:"dropped"`
	}{
		Type:    "whoami",
		Client:  token,
		Kinds:   conn.kinds().Names(),
		Dropped: dropped,
	}
	ctl.sendJSON(conn, resp)
}
