package mixrouter

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dkeye/voicebridge/internal/domain"
)

// relay carries one speaker's audio from its bridge to another bridge. It
// lives while at least one listener there references it; once the last one
// leaves, teardown counts down reaper ticks and a new reference cancels it.
type relay struct {
	source    string
	forwardID string
	receiveID string
	from      Link
	to        Link

	targets     map[string]struct{}
	teardown    int // ticks left; 0 when not scheduled
	established bool
	deferred    map[string]domain.Mix

	// done is closed once both legs of a dropped relay are ended.
	done chan struct{}
}

// RelayInfo is a read-only view of a relay for APIs.
type RelayInfo struct {
	Source      string   `json:"source"`
	ForwardID   string   `json:"forward_id"`
	ReceiveID   string   `json:"receive_id"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Targets     []string `json:"targets"`
	Teardown    int      `json:"teardown"`
	Established bool     `json:"established"`
}

func (rl *relay) info() RelayInfo {
	return RelayInfo{
		Source:      rl.source,
		ForwardID:   rl.forwardID,
		ReceiveID:   rl.receiveID,
		From:        rl.from.String(),
		To:          rl.to.String(),
		Targets:     slices.Sorted(maps.Keys(rl.targets)),
		Teardown:    rl.teardown,
		Established: rl.established,
	}
}

func (rl *relay) touches(callID string) bool {
	return rl.source == callID || rl.forwardID == callID || rl.receiveID == callID
}

// reference adds target and cancels a pending teardown. It reports whether a
// teardown was cancelled.
func (rl *relay) reference(target string) bool {
	rl.targets[target] = struct{}{}
	if rl.teardown == 0 {
		return false
	}
	rl.teardown = 0
	return true
}

// release drops target and schedules teardown when nothing is left.
func (rl *relay) release(target string, ticks int) bool {
	delete(rl.targets, target)
	delete(rl.deferred, target)
	if len(rl.targets) > 0 || rl.teardown > 0 {
		return false
	}
	rl.teardown = ticks
	return true
}

// ensureRelay returns the relay carrying source to the bridge to, creating
// both legs when needed, and references target on it.
func (r *Router) ensureRelay(ctx context.Context, source string, from, to Link, target string) (*relay, error) {
	forwardID := domain.ForwardRelayID(source, to.Key())

	for {
		r.mu.Lock()
		if rl, ok := r.relays[forwardID]; ok {
			if rl.reference(target) {
				r.logger.Debug().Str("relay", forwardID).Msg("relay teardown cancelled")
			}
			r.mu.Unlock()
			return rl, nil
		}
		done, ending := r.ending[forwardID]
		r.mu.Unlock()
		if !ending {
			break
		}
		// A new relay reuses both leg ids, so the old legs must be gone first.
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	rl, err := r.createRelay(ctx, source, from, to)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.relays[forwardID]; ok {
		rl = existing
	} else {
		r.relays[forwardID] = rl
		r.byReceive[rl.receiveID] = rl
		r.metrics.Relays.Set(float64(len(r.relays)))
	}
	rl.reference(target)
	return rl, nil
}

func (r *Router) createRelay(ctx context.Context, source string, from, to Link) (*relay, error) {
	rl := &relay{
		source:    source,
		forwardID: domain.ForwardRelayID(source, to.Key()),
		receiveID: domain.ReceiveRelayID(source, from.Key()),
		from:      from,
		to:        to,
		targets:   make(map[string]struct{}),
		deferred:  make(map[string]domain.Mix),
	}

	conference := ""
	if cp, ok := r.bridges.CallParticipant(source); ok {
		conference = cp.ConferenceID
	}
	forward := domain.CallParticipant{
		CallID:           rl.forwardID,
		ConferenceID:     conference,
		Name:             rl.forwardID,
		PhoneNumber:      to.Address().RelayDialString(),
		ForwardingCallID: source,
		RemoteCallID:     rl.receiveID,
	}
	receive := domain.CallParticipant{
		CallID:       rl.receiveID,
		ConferenceID: conference,
		Name:         rl.receiveID,
	}

	if err := r.bridges.SetupCallOn(ctx, from, forward); err != nil && !errors.Is(err, domain.ErrDuplicateCall) {
		return nil, fmt.Errorf("relay %s: %w", rl.forwardID, err)
	}
	if err := r.bridges.RegisterCall(to, receive); err != nil && !errors.Is(err, domain.ErrDuplicateCall) {
		r.endCall(ctx, rl.forwardID)
		return nil, fmt.Errorf("relay %s: %w", rl.receiveID, err)
	}
	r.logger.Info().
		Str("source", source).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("relay created")
	return rl, nil
}

// releaseRelay drops target from the relay carrying source to the bridge with
// key toKey and returns the relay, or nil when there is none.
func (r *Router) releaseRelay(source, toKey, target string) *relay {
	forwardID := domain.ForwardRelayID(source, toKey)

	r.mu.Lock()
	defer r.mu.Unlock()
	rl, ok := r.relays[forwardID]
	if !ok {
		return nil
	}
	if rl.release(target, r.teardownTicks()) {
		r.logger.Debug().Str("relay", forwardID).Int("ticks", rl.teardown).Msg("relay teardown scheduled")
	}
	return rl
}

func (r *Router) teardownTicks() int {
	if r.opts.ReaperInterval <= 0 {
		return 1
	}
	n := int((r.opts.RelayGrace + r.opts.ReaperInterval - 1) / r.opts.ReaperInterval)
	return max(n, 1)
}

// dropLocked forgets rl and marks its forward id as ending until endRelays
// is done with it. The caller ends its legs after unlocking.
func (r *Router) dropLocked(rl *relay) {
	delete(r.relays, rl.forwardID)
	delete(r.byReceive, rl.receiveID)
	rl.done = make(chan struct{})
	r.ending[rl.forwardID] = rl.done
	r.metrics.Relays.Set(float64(len(r.relays)))
}

func (r *Router) endRelays(ctx context.Context, relays []*relay) {
	for _, rl := range relays {
		r.endCall(ctx, rl.forwardID)
		r.endCall(ctx, rl.receiveID)
		r.logger.Info().Str("relay", rl.forwardID).Msg("relay ended")

		r.mu.Lock()
		if r.ending[rl.forwardID] == rl.done {
			delete(r.ending, rl.forwardID)
		}
		r.mu.Unlock()
		close(rl.done)
	}
}

func (r *Router) endCall(ctx context.Context, callID string) {
	if err := r.bridges.EndCall(ctx, callID); err != nil && !errors.Is(err, domain.ErrUnknownCall) {
		r.logger.Warn().Err(err).Str("call", callID).Msg("failed to end relay leg")
	}
}

// reap advances every scheduled teardown by one tick and ends the relays
// whose countdown ran out.
func (r *Router) reap(ctx context.Context) {
	var expired []*relay
	r.mu.Lock()
	for _, id := range slices.Sorted(maps.Keys(r.relays)) {
		rl := r.relays[id]
		if rl.teardown == 0 {
			continue
		}
		rl.teardown--
		if rl.teardown == 0 {
			r.dropLocked(rl)
			expired = append(expired, rl)
		}
	}
	r.mu.Unlock()

	r.endRelays(ctx, expired)
	r.metrics.RelayTeardowns.Add(float64(len(expired)))
}

// Relays returns the current relays ordered by forward leg id.
func (r *Router) Relays() []RelayInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RelayInfo, 0, len(r.relays))
	for _, id := range slices.Sorted(maps.Keys(r.relays)) {
		out = append(out, r.relays[id].info())
	}
	return out
}

// CallEstablished resends the mixes that were sent through the relay whose
// receive leg is callID before that leg was up.
func (r *Router) CallEstablished(callID string) {
	r.mu.Lock()
	rl, ok := r.byReceive[callID]
	if !ok {
		r.mu.Unlock()
		return
	}
	rl.established = true
	lines := make([]string, 0, len(rl.deferred))
	for _, target := range slices.Sorted(maps.Keys(rl.deferred)) {
		lines = append(lines, rl.deferred[target].Command(rl.receiveID, target))
	}
	clear(rl.deferred)
	to := rl.to
	r.mu.Unlock()

	if len(lines) == 0 {
		return
	}
	if err := to.SendCommand(lines...); err != nil {
		r.logger.Warn().Err(err).Str("relay", callID).Msg("failed to resend deferred mixes")
		r.bridges.ReportFailure(context.Background(), to, err)
		return
	}
	r.metrics.MixCommands.WithLabelValues("deferred").Add(float64(len(lines)))
}

// CallEnded forgets callID: relays it sources or carries are ended, and it
// stops referencing relays it listened through.
func (r *Router) CallEnded(ctx context.Context, callID string) {
	r.pendingMu.Lock()
	delete(r.pending, callID)
	for _, targets := range r.pending {
		delete(targets, callID)
	}
	r.pendingMu.Unlock()

	var dropped []*relay
	r.mu.Lock()
	for _, id := range slices.Sorted(maps.Keys(r.relays)) {
		rl := r.relays[id]
		if rl.touches(callID) {
			r.dropLocked(rl)
			dropped = append(dropped, rl)
			continue
		}
		if _, ok := rl.targets[callID]; ok {
			rl.release(callID, r.teardownTicks())
		}
	}
	r.mu.Unlock()

	r.endRelays(ctx, dropped)
}

// BridgeOffline ends every relay with a leg on the bridge with key.
func (r *Router) BridgeOffline(ctx context.Context, key string) {
	var dropped []*relay
	r.mu.Lock()
	for _, id := range slices.Sorted(maps.Keys(r.relays)) {
		rl := r.relays[id]
		if rl.from.Key() == key || rl.to.Key() == key {
			r.dropLocked(rl)
			dropped = append(dropped, rl)
		}
	}
	r.mu.Unlock()

	if len(dropped) > 0 {
		r.logger.Info().Str("bridge", key).Int("relays", len(dropped)).Msg("dropping relays of offline bridge")
	}
	r.endRelays(ctx, dropped)
}
