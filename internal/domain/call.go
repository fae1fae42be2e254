package domain

import (
	"strconv"
	"strings"
)

// RelayPrefix marks synthetic calls that carry audio between bridges.
const RelayPrefix = "V-"

// CallParticipant describes one call to be placed on a bridge.
type CallParticipant struct {
	CallID           string `json:"call_id"`
	ConferenceID     string `json:"conference_id"`
	PhoneNumber      string `json:"phone_number,omitempty"`
	Name             string `json:"name,omitempty"`
	DisplayName      string `json:"display_name,omitempty"`
	InputTreatment   string `json:"input_treatment,omitempty"`
	ForwardingCallID string `json:"forwarding_call_id,omitempty"`
	RemoteCallID     string `json:"remote_call_id,omitempty"`
	VoiceDetection   bool   `json:"voice_detection,omitempty"`
	Muted            bool   `json:"muted,omitempty"`
}

// IsRelay reports whether the call only exists to forward audio between bridges.
func (cp CallParticipant) IsRelay() bool {
	return IsRelayCall(cp.CallID)
}

func IsRelayCall(callID string) bool {
	return strings.HasPrefix(callID, RelayPrefix)
}

// ForwardRelayID names the leg on the speaker's bridge that sends speaker's
// audio to the bridge with key targetKey.
func ForwardRelayID(speaker, targetKey string) string {
	return RelayPrefix + speaker + "_To_" + targetKey
}

// ReceiveRelayID names the leg on the listener's bridge that plays speaker's
// audio arriving from the bridge with key sourceKey.
func ReceiveRelayID(speaker, sourceKey string) string {
	return RelayPrefix + speaker + "_From_" + sourceKey
}

// SetupRequest renders the multi-line call setup request. The bridge reads
// key=value lines until an empty line.
func (cp CallParticipant) SetupRequest(migrate bool) string {
	var b strings.Builder
	put := func(k, v string) {
		if v == "" {
			return
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	put("callId", cp.CallID)
	put("conferenceId", cp.ConferenceID)
	put("name", cp.Name)
	put("displayName", cp.DisplayName)
	put("phoneNumber", cp.PhoneNumber)
	put("inputTreatment", cp.InputTreatment)
	put("forwardingCallId", cp.ForwardingCallID)
	put("remoteCallId", cp.RemoteCallID)
	if cp.VoiceDetection {
		put("voiceDetection", strconv.FormatBool(true))
	}
	if cp.Muted {
		put("mute", strconv.FormatBool(true))
	}
	if migrate {
		put("migrate", strconv.FormatBool(true))
	}
	b.WriteByte('\n')
	return b.String()
}
