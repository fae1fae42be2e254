package orch

import (
	"context"

	"github.com/dkeye/voicebridge/internal/core"
	"github.com/dkeye/voicebridge/internal/domain"
)

func (o *Orchestrator) onStatus(st domain.CallStatus) {
	switch st.Code {
	case domain.StatusEstablished:
		o.Router.CallEstablished(st.CallID)
		o.Mixer.CallEstablished(st.CallID)
	case domain.StatusMigrated:
		o.Mixer.CallEstablished(st.CallID)
	case domain.StatusBridgeOffline:
		if st.CallID != "" {
			o.replace(st.CallID, st.CallInfo)
		}
	default:
		return
	}
	o.Commit(context.Background())
}

// replace places a call again after its bridge went away. The player keeps
// its position; the bridge gets its mixes once the call is established.
func (o *Orchestrator) replace(callID, bridgeAddr string) {
	cp, ok := o.Placed(callID)
	if !ok {
		return
	}
	ctx := context.Background()
	if _, err := o.Pool.InitiateCall(ctx, cp, bridgeAddr); err != nil {
		o.logger.Warn().Err(err).Str("call", callID).Str("bridge", bridgeAddr).Msg("failed to place call again")
		o.forget(callID)
		return
	}
	o.logger.Info().Str("call", callID).Str("bridge", bridgeAddr).Msg("call placed again")
}

func (o *Orchestrator) onCall(ev core.CallEvent) {
	if ev.Kind != core.CallEnded {
		return
	}
	// A call lost with its bridge keeps its player until recovery decides.
	if ev.Reason != core.ReasonBridgeOffline && !ev.Participant.IsRelay() {
		o.forget(ev.CallID)
	}
	o.Router.CallEnded(context.Background(), ev.CallID)
}

func (o *Orchestrator) onBridge(ev core.BridgeEvent) {
	if ev.Up {
		return
	}
	o.Router.BridgeOffline(context.Background(), ev.Key)
}
