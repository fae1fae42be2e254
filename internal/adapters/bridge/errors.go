package bridge

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCommunication covers every transport failure: refused dial, closed
	// socket, missing END sentinel, premature EOF and watchdog expiry.
	ErrCommunication = errors.New("bridge communication error")
	ErrCommandFailed = errors.New("bridge command failed")
	ErrNotConnected  = errors.New("bridge not connected")
)

// CommandError is a well-formed response whose status was not SUCCESS.
type CommandError struct {
	Command  string
	Response Response
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Command, e.Response.Message, e.Response.Status)
}

func (e *CommandError) Unwrap() error { return ErrCommandFailed }

func commErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCommunication}, args...)...)
}

// IsCommunication reports whether err means the bridge itself is unusable.
func IsCommunication(err error) bool {
	return errors.Is(err, ErrCommunication)
}

// isDuplicateCall matches the bridge's refusal of a call id it already hosts.
func isDuplicateCall(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	msg := strings.ToLower(ce.Response.Message)
	return strings.Contains(msg, "already in use") || strings.Contains(msg, "duplicate")
}

func commandName(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if i := strings.IndexAny(cmd, "=\n"); i >= 0 {
		return cmd[:i]
	}
	return cmd
}
