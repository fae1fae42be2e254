package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type StatusCode int

const (
	StatusUninitialized     StatusCode = 0
	StatusInvited           StatusCode = 100
	StatusAnswered          StatusCode = 110
	StatusTimeout           StatusCode = 120
	StatusNoAnswer          StatusCode = 127
	StatusEstablished       StatusCode = 200
	StatusNumberOfCalls     StatusCode = 220
	StatusTreatmentDone     StatusCode = 230
	StatusStartedSpeaking   StatusCode = 250
	StatusStoppedSpeaking   StatusCode = 259
	StatusDtmfKey           StatusCode = 269
	StatusMigrated          StatusCode = 270
	StatusMigrateFailed     StatusCode = 275
	StatusStartedWhispering StatusCode = 280
	StatusStoppedWhispering StatusCode = 289
	StatusEnding            StatusCode = 290
	StatusEnded             StatusCode = 299
	StatusBusy              StatusCode = 486
	StatusBridgeOffline     StatusCode = 666
	StatusInfo              StatusCode = 888
	StatusMuted             StatusCode = 937
	StatusUnmuted           StatusCode = 938
	StatusUnknown           StatusCode = 999
)

var statusNames = map[StatusCode]string{
	StatusUninitialized:     "UNINITIALIZED",
	StatusInvited:           "INVITED",
	StatusAnswered:          "ANSWERED",
	StatusTimeout:           "TIMEOUT",
	StatusNoAnswer:          "NOANSWER",
	StatusEstablished:       "ESTABLISHED",
	StatusNumberOfCalls:     "NUMBEROFCALLS",
	StatusTreatmentDone:     "TREATMENTDONE",
	StatusStartedSpeaking:   "STARTEDSPEAKING",
	StatusStoppedSpeaking:   "STOPPEDSPEAKING",
	StatusDtmfKey:           "DTMF_KEY",
	StatusMigrated:          "MIGRATED",
	StatusMigrateFailed:     "MIGRATE_FAILED",
	StatusStartedWhispering: "STARTEDWHISPERING",
	StatusStoppedWhispering: "STOPPEDWHISPERING",
	StatusEnding:            "ENDING",
	StatusEnded:             "ENDED",
	StatusBusy:              "BUSY",
	StatusBridgeOffline:     "BRIDGE_OFFLINE",
	StatusInfo:              "INFO",
	StatusMuted:             "MUTED",
	StatusUnmuted:           "UNMUTED",
	StatusUnknown:           "UNKNOWN",
}

func (c StatusCode) String() string {
	if s, ok := statusNames[c]; ok {
		return s
	}
	return "UNKNOWN(" + strconv.Itoa(int(c)) + ")"
}

// CallStatus is one asynchronous status notification from a bridge, e.g.
//
//	SIPDialer/1.0 200 ESTABLISHED CallId='8' ConferenceId='Lobby' CallInfo='22500'
type CallStatus struct {
	Originator   string            `json:"originator"`
	Code         StatusCode        `json:"code"`
	CallID       string            `json:"call_id"`
	ConferenceID string            `json:"conference_id,omitempty"`
	CallInfo     string            `json:"call_info,omitempty"`
	Options      map[string]string `json:"options,omitempty"`
}

var (
	statusHeadRE   = regexp.MustCompile(`^(\S+/\S+)\s+(\d{3})\b`)
	statusOptionRE = regexp.MustCompile(`(\w+)='([^']*)'`)
)

// ParseCallStatus parses a status line. Lines that do not start with an
// originator and a three-digit code are rejected with ErrBadStatus.
func ParseCallStatus(line string) (CallStatus, error) {
	line = strings.TrimSpace(line)
	head := statusHeadRE.FindStringSubmatch(line)
	if head == nil {
		return CallStatus{}, fmt.Errorf("%w: %q", ErrBadStatus, line)
	}
	code, _ := strconv.Atoi(head[2])

	st := CallStatus{
		Originator: head[1],
		Code:       StatusCode(code),
		Options:    make(map[string]string),
	}
	for _, m := range statusOptionRE.FindAllStringSubmatch(line, -1) {
		st.Options[m[1]] = m[2]
	}
	st.CallID = st.Options["CallId"]
	st.ConferenceID = st.Options["ConferenceId"]
	st.CallInfo = st.Options["CallInfo"]
	return st, nil
}

// NewCallStatus builds a locally generated status, used for recovery
// notifications that never came from a bridge.
func NewCallStatus(code StatusCode, callID, conferenceID, info string) CallStatus {
	return CallStatus{
		Originator:   "VoiceBridge/1.0",
		Code:         code,
		CallID:       callID,
		ConferenceID: conferenceID,
		CallInfo:     info,
		Options:      map[string]string{},
	}
}

func (s CallStatus) String() string {
	return fmt.Sprintf("%s %03d %s CallId='%s' ConferenceId='%s' CallInfo='%s'",
		s.Originator, int(s.Code), s.Code, s.CallID, s.ConferenceID, s.CallInfo)
}
