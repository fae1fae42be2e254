package bridge

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestReadResponseSuccessWithContents(t *testing.T) {
	resp, err := ReadResponse(reader("line one\nline two\nEND -- SUCCESS\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, []string{"line one", "line two"}, resp.Contents)
}

func TestReadResponseFailureMessage(t *testing.T) {
	resp, err := ReadResponse(reader("END -- FAILURE: disk full\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, resp.Status)
	assert.Equal(t, "disk full", resp.Message)
	assert.Empty(t, resp.Contents)
}

func TestReadResponseUnknownStatus(t *testing.T) {
	resp, err := ReadResponse(reader("END -- MAYBE\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, resp.Status)
	assert.Equal(t, "Unrecognized status: MAYBE", resp.Message)
}

func TestReadResponseSentinelWithoutNewline(t *testing.T) {
	resp, err := ReadResponse(reader("x\nEND -- SUCCESS"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, []string{"x"}, resp.Contents)
}

func TestReadResponsePrematureEOF(t *testing.T) {
	for _, in := range []string{"", "content\n", "content\npartial"} {
		_, err := ReadResponse(reader(in))
		assert.ErrorIs(t, err, ErrCommunication, "input %q", in)
	}
}

func TestReadResponseSentinelMustStartLine(t *testing.T) {
	resp, err := ReadResponse(reader("not END -- SUCCESS\nEND -- SUCCESS\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"not END -- SUCCESS"}, resp.Contents)
}

func TestParseBanner(t *testing.T) {
	pub, ok := parseBanner("VoiceBridge ready BridgePublicAddress='203.0.113.7:5060' extra")
	require.True(t, ok)
	assert.Equal(t, "203.0.113.7:5060", pub)

	_, ok = parseBanner("hello")
	assert.False(t, ok)
	_, ok = parseBanner("BridgePublicAddress='unterminated")
	assert.False(t, ok)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "cancel", commandName("cancel=12\n"))
	assert.Equal(t, "callId", commandName("callId=1\nconferenceId=c\n\n"))
	assert.Equal(t, "gs", commandName("gs\n"))
}
