package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallStatus(t *testing.T) {
	st, err := ParseCallStatus("SIPDialer/1.0 200 ESTABLISHED CallId='8' ConferenceId='Lobby:PCM/16000/2' CallInfo='22500'")
	require.NoError(t, err)
	assert.Equal(t, "SIPDialer/1.0", st.Originator)
	assert.Equal(t, StatusEstablished, st.Code)
	assert.Equal(t, "8", st.CallID)
	assert.Equal(t, "Lobby:PCM/16000/2", st.ConferenceID)
	assert.Equal(t, "22500", st.CallInfo)
	assert.Equal(t, "ESTABLISHED", st.Code.String())
}

func TestParseCallStatusEmptyOptions(t *testing.T) {
	st, err := ParseCallStatus("SIPDialer/1.0 299 ENDED CallId='V-1_To_h_5060' Reason='hangup'")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, st.Code)
	assert.Equal(t, "V-1_To_h_5060", st.CallID)
	assert.Empty(t, st.ConferenceID)
	assert.Equal(t, "hangup", st.Options["Reason"])
}

func TestParseCallStatusRejectsGarbage(t *testing.T) {
	for _, line := range []string{"", "hello", "END -- SUCCESS", "SIPDialer/1.0 ok"} {
		_, err := ParseCallStatus(line)
		assert.ErrorIs(t, err, ErrBadStatus, line)
	}
}

func TestStatusCodeUnknownString(t *testing.T) {
	assert.Equal(t, "UNKNOWN(123)", StatusCode(123).String())
	assert.Equal(t, "BRIDGE_OFFLINE", StatusBridgeOffline.String())
}
