package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/voicebridge/internal/adapters/bridge"
	"github.com/dkeye/voicebridge/internal/app/spatial"
	"github.com/dkeye/voicebridge/internal/domain"
)

// PlaceCall puts cp on a bridge and gives it a player in the audio group
// named after its conference. hint optionally names the preferred bridge.
func (o *Orchestrator) PlaceCall(ctx context.Context, cp domain.CallParticipant, player spatial.Player, hint string) (*bridge.Link, error) {
	if cp.IsRelay() {
		return nil, fmt.Errorf("place %s: %w", cp.CallID, domain.ErrReservedCallID)
	}
	link, err := o.Pool.InitiateCall(ctx, cp, hint)
	if err != nil {
		return nil, err
	}

	if player.ID == "" {
		player.ID = cp.CallID
	}
	player.CallID = cp.CallID
	if err := o.addPlayer(cp.ConferenceID, player); err != nil {
		if endErr := o.Pool.EndCall(ctx, cp.CallID); endErr != nil {
			o.logger.Warn().Err(endErr).Str("call", cp.CallID).Msg("failed to roll back call")
		}
		return nil, err
	}

	o.mu.Lock()
	o.placed[cp.CallID] = cp
	o.mu.Unlock()
	o.Commit(ctx)
	return link, nil
}

func (o *Orchestrator) addPlayer(conference string, player spatial.Player) error {
	if err := o.Mixer.AddPlayer(player); err != nil {
		return err
	}
	if conference == "" {
		return nil
	}
	o.Mixer.EnsureGroup(conference, nil)
	return o.Mixer.AddToGroup(conference, player.ID, spatial.DefaultMemberInfo())
}

// EndCall hangs up callID. Its player and relays are released through the
// CallEnded event.
func (o *Orchestrator) EndCall(ctx context.Context, callID string) error {
	err := o.Pool.EndCall(ctx, callID)
	o.forget(callID)
	o.Commit(ctx)
	return err
}

// MuteCall mutes the call on its bridge and silences its player.
func (o *Orchestrator) MuteCall(ctx context.Context, callID string, muted bool) error {
	if err := o.Pool.MuteCall(ctx, callID, muted); err != nil {
		return err
	}
	if id, ok := o.Mixer.PlayerByCall(callID); ok {
		if err := o.Mixer.SetMuted(id, muted); err != nil && !errors.Is(err, spatial.ErrUnknownPlayer) {
			return err
		}
	}
	o.Commit(ctx)
	return nil
}

func (o *Orchestrator) forget(callID string) {
	o.mu.Lock()
	delete(o.placed, callID)
	o.mu.Unlock()
	if id, ok := o.Mixer.PlayerByCall(callID); ok {
		// Already gone when the CallEnded event got there first.
		_ = o.Mixer.RemovePlayer(id)
	}
}

// Placed returns the participant PlaceCall was given for callID.
func (o *Orchestrator) Placed(callID string) (domain.CallParticipant, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp, ok := o.placed[callID]
	return cp, ok
}
