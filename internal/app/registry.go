package app

import (
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicebridge/internal/adapters/bridge"
	"github.com/dkeye/voicebridge/internal/domain"
)

type assignment struct {
	Link        *bridge.Link
	Participant domain.CallParticipant
}

// Registry is the call to bridge assignment map. A call has at most one bridge.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*assignment
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*assignment)}
}

// Bind records cp on link unless the call id is already taken.
func (r *Registry) Bind(cp domain.CallParticipant, link *bridge.Link) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[cp.CallID]; ok {
		return false
	}
	r.calls[cp.CallID] = &assignment{Link: link, Participant: cp}
	log.Debug().Str("module", "app.registry").Str("call", cp.CallID).Str("bridge", link.String()).Msg("bound call")
	return true
}

// Unbind removes callID. When link is non-nil the entry is only removed if
// it still points at that link.
func (r *Registry) Unbind(callID string, link *bridge.Link) (domain.CallParticipant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.calls[callID]
	if !ok || (link != nil && a.Link != link) {
		return domain.CallParticipant{}, false
	}
	delete(r.calls, callID)
	return a.Participant, true
}

func (r *Registry) LinkOf(callID string) (*bridge.Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.calls[callID]
	if !ok {
		return nil, false
	}
	return a.Link, true
}

func (r *Registry) Participant(callID string) (domain.CallParticipant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.calls[callID]
	if !ok {
		return domain.CallParticipant{}, false
	}
	return a.Participant, true
}

// Update rewrites the participant of an existing call in place.
func (r *Registry) Update(callID string, fn func(*domain.CallParticipant)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.calls[callID]; ok {
		fn(&a.Participant)
	}
}

// Release removes and returns every call hosted on link.
func (r *Registry) Release(link *bridge.Link) []domain.CallParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CallParticipant
	for id, a := range r.calls {
		if a.Link == link {
			out = append(out, a.Participant)
			delete(r.calls, id)
		}
	}
	sortParticipants(out)
	return out
}

// RelaysTouching lists calls on other bridges whose id names key.
func (r *Registry) RelaysTouching(key string, except *bridge.Link) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, a := range r.calls {
		if a.Link != except && domain.IsRelayCall(id) && strings.Contains(id, key) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// CallInfo is a read-only view of one assignment for APIs.
type CallInfo struct {
	Participant domain.CallParticipant `json:"participant"`
	Bridge      string                 `json:"bridge"`
}

func (r *Registry) Snapshot() []CallInfo {
	r.mu.RLock()
	out := make([]CallInfo, 0, len(r.calls))
	for _, a := range r.calls {
		out = append(out, CallInfo{Participant: a.Participant, Bridge: a.Link.String()})
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b CallInfo) int {
		return strings.Compare(a.Participant.CallID, b.Participant.CallID)
	})
	return out
}

func sortParticipants(cps []domain.CallParticipant) {
	slices.SortFunc(cps, func(a, b domain.CallParticipant) int {
		return strings.Compare(a.CallID, b.CallID)
	})
}
