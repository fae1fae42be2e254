package core

import "github.com/dkeye/voicebridge/internal/domain"

type CallEventKind string

const (
	CallBegan CallEventKind = "began"
	CallEnded CallEventKind = "ended"
)

// Reasons carried by CallEnded events.
const (
	ReasonEnded         = "ended"
	ReasonEndedByBridge = "ended by bridge"
	ReasonBridgeOffline = "bridge offline"
)

// CallEvent reports a call being placed on or removed from a bridge.
type CallEvent struct {
	Kind        CallEventKind          `json:"kind"`
	CallID      string                 `json:"call_id"`
	Bridge      string                 `json:"bridge,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	Participant domain.CallParticipant `json:"participant"`
}

// RangeEvent reports that Listener started or stopped hearing Speaker.
type RangeEvent struct {
	Listener string `json:"listener"`
	Speaker  string `json:"speaker"`
	InRange  bool   `json:"in_range"`
}

// BridgeEvent reports a bridge joining or leaving the pool.
type BridgeEvent struct {
	Address string `json:"address"`
	Key     string `json:"key"`
	Up      bool   `json:"up"`
}

// Events groups the buses shared by the pool, the mixer and the adapters.
type Events struct {
	Status  *Bus[domain.CallStatus]
	Calls   *Bus[CallEvent]
	Range   *Bus[RangeEvent]
	Bridges *Bus[BridgeEvent]
}

func NewEvents() *Events {
	return &Events{
		Status:  NewBus[domain.CallStatus](),
		Calls:   NewBus[CallEvent](),
		Range:   NewBus[RangeEvent](),
		Bridges: NewBus[BridgeEvent](),
	}
}
