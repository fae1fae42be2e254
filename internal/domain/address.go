package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultControlPort = 6666
	DefaultSipPort     = 5060

	// relayDialUser is the SIP user a bridge answers for inter-bridge relay legs.
	relayDialUser = "6666"
)

// BridgeAddress locates one physical bridge. Private fields are used by this
// process, public fields are what other bridges and phones dial.
type BridgeAddress struct {
	PrivateHost        string `json:"private_host"`
	PrivateControlPort int    `json:"private_control_port"`
	PrivateSipPort     int    `json:"private_sip_port"`
	PublicHost         string `json:"public_host"`
	PublicControlPort  int    `json:"public_control_port"`
	PublicSipPort      int    `json:"public_sip_port"`
}

// ParseBridgeAddress parses
// privateHost:privateCtrl:privateSip:publicHost:publicCtrl:publicSip.
// A malformed port falls back to its default; public ports default to the
// private ones.
func ParseBridgeAddress(s string) (BridgeAddress, error) {
	tokens := strings.Split(strings.TrimSpace(s), ":")
	if len(tokens) != 6 {
		return BridgeAddress{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	if tokens[0] == "" {
		return BridgeAddress{}, fmt.Errorf("%w: empty private host in %q", ErrBadAddress, s)
	}

	a := BridgeAddress{
		PrivateHost: tokens[0],
		PublicHost:  tokens[3],
	}
	a.PrivateControlPort = parsePort(tokens[1], DefaultControlPort)
	a.PrivateSipPort = parsePort(tokens[2], DefaultSipPort)
	a.PublicControlPort = parsePort(tokens[4], a.PrivateControlPort)
	a.PublicSipPort = parsePort(tokens[5], a.PrivateSipPort)
	if a.PublicHost == "" {
		a.PublicHost = a.PrivateHost
	}
	return a, nil
}

func parsePort(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 65535 {
		return def
	}
	return n
}

func (a BridgeAddress) String() string {
	return fmt.Sprintf("%s:%d:%d:%s:%d:%d",
		a.PrivateHost, a.PrivateControlPort, a.PrivateSipPort,
		a.PublicHost, a.PublicControlPort, a.PublicSipPort)
}

// ControlAddr is the host:port this process dials.
func (a BridgeAddress) ControlAddr() string {
	return a.PrivateHost + ":" + strconv.Itoa(a.PrivateControlPort)
}

// Key identifies the bridge inside relay call ids.
func (a BridgeAddress) Key() string {
	return a.PrivateHost + "_" + strconv.Itoa(a.PublicSipPort)
}

// RelayDialString is what a forward relay leg dials to reach this bridge.
func (a BridgeAddress) RelayDialString() string {
	return fmt.Sprintf("%s@%s:%d", relayDialUser, a.PrivateHost, a.PublicSipPort)
}
