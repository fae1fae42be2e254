package app

import "github.com/dkeye/voicebridge/internal/adapters/bridge"

// Policy picks the bridge for a new call.
type Policy interface {
	Select(links []*bridge.Link) *bridge.Link
}

// LeastLoaded picks the connected link hosting the fewest calls; ties go to
// the link that joined the pool first.
type LeastLoaded struct{}

func (LeastLoaded) Select(links []*bridge.Link) *bridge.Link {
	var best *bridge.Link
	bestCalls := 0
	for _, l := range links {
		if !l.Connected() {
			continue
		}
		n := l.NumCalls()
		if best == nil || n < bestCalls {
			best, bestCalls = l, n
		}
	}
	return best
}
