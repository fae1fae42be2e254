// Package domain contains the control-plane entities without I/O: bridge
// addresses, call participants, call status and mix parameters.
package domain

import "errors"

var (
	ErrNoBridges     = errors.New("no voice bridges available")
	ErrDuplicateCall = errors.New("duplicate call id")
	ErrUnknownCall   = errors.New("unknown call")
	ErrBadAddress    = errors.New("invalid bridge address")
	ErrBadStatus     = errors.New("malformed call status")

	ErrReservedCallID = errors.New("call id is reserved for relays")
)
