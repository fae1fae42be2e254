package bridge

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dkeye/voicebridge/internal/domain"
)

func (l *Link) AddCall(cp domain.CallParticipant) {
	l.mu.Lock()
	l.calls[cp.CallID] = cp
	l.mu.Unlock()
}

// RemoveCall forgets callID and reports whether it was hosted here.
func (l *Link) RemoveCall(callID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.calls[callID]
	delete(l.calls, callID)
	return ok
}

func (l *Link) HasCall(callID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.calls[callID]
	return ok
}

func (l *Link) CallParticipant(callID string) (domain.CallParticipant, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp, ok := l.calls[callID]
	return cp, ok
}

func (l *Link) NumCalls() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.calls)
}

// Calls returns the hosted calls ordered by id.
func (l *Link) Calls() []domain.CallParticipant {
	l.mu.RLock()
	out := make([]domain.CallParticipant, 0, len(l.calls))
	for _, cp := range l.calls {
		out = append(out, cp)
	}
	l.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.CallParticipant) int {
		return strings.Compare(a.CallID, b.CallID)
	})
	return out
}

// MonitorConference subscribes to a conference's call status and disables its
// common mix, so listeners only hear what private mixes allow.
func (l *Link) MonitorConference(ctx context.Context, conferenceID string) error {
	if conferenceID == "" || l.IsMonitoring(conferenceID) {
		return nil
	}

	mccID := conferenceID
	if i := strings.IndexByte(conferenceID, ':'); i >= 0 {
		mccID = conferenceID[:i]
	}
	cmds := []string{
		"cc=" + conferenceID,
		"wgo=" + conferenceID + ":" + conferenceID + ":noCommonMix=true",
		"mcc=true:" + mccID,
	}
	for _, cmd := range cmds {
		if _, err := l.SendWithResponse(ctx, cmd); err != nil {
			return fmt.Errorf("monitor conference %s: %w", conferenceID, err)
		}
	}

	l.mu.Lock()
	l.conferences[conferenceID] = struct{}{}
	l.mu.Unlock()
	l.logger.Info().Str("conference", conferenceID).Msg("monitoring conference")
	return nil
}

// SetupCall places cp on this bridge and records it on success.
func (l *Link) SetupCall(ctx context.Context, cp domain.CallParticipant) error {
	if _, err := l.SendWithResponse(ctx, cp.SetupRequest(false)); err != nil {
		if isDuplicateCall(err) {
			return fmt.Errorf("setup %s: %w: %w", cp.CallID, domain.ErrDuplicateCall, err)
		}
		return fmt.Errorf("setup %s: %w", cp.CallID, err)
	}
	l.AddCall(cp)
	l.logger.Info().Str("call", cp.CallID).Str("conference", cp.ConferenceID).Msg("call set up")
	return nil
}

// EndCall cancels callID. Calls this link does not host are skipped, except
// the wildcard id "0", and nothing is sent on a disconnected link.
func (l *Link) EndCall(ctx context.Context, callID string) error {
	if !l.Connected() {
		return nil
	}
	if callID != "0" && !l.HasCall(callID) {
		return nil
	}
	l.RemoveCall(callID)
	if _, err := l.SendWithResponse(ctx, "cancel="+callID); err != nil {
		return fmt.Errorf("end %s: %w", callID, err)
	}
	l.logger.Info().Str("call", callID).Msg("call ended")
	return nil
}

func (l *Link) MuteCall(ctx context.Context, callID string, muted bool) error {
	if _, err := l.SendWithResponse(ctx, "mute="+strconv.FormatBool(muted)+":"+callID); err != nil {
		return fmt.Errorf("mute %s: %w", callID, err)
	}
	l.mu.Lock()
	if cp, ok := l.calls[callID]; ok {
		cp.Muted = muted
		l.calls[callID] = cp
	}
	l.mu.Unlock()
	return nil
}

// TransferCall moves callID into another conference on the same bridge.
func (l *Link) TransferCall(ctx context.Context, callID, conferenceID string) error {
	if err := l.MonitorConference(ctx, conferenceID); err != nil {
		return err
	}
	if _, err := l.SendWithResponse(ctx, "transferCall="+callID+":"+conferenceID); err != nil {
		return fmt.Errorf("transfer %s: %w", callID, err)
	}
	l.mu.Lock()
	if cp, ok := l.calls[callID]; ok {
		cp.ConferenceID = conferenceID
		l.calls[callID] = cp
	}
	l.mu.Unlock()
	return nil
}

// MigrateCall starts moving cp's phone onto this bridge, or cancels a pending
// migration when cancel is set.
func (l *Link) MigrateCall(ctx context.Context, cp domain.CallParticipant, cancel bool) error {
	if cancel {
		if _, err := l.SendWithResponse(ctx, "cancelMigration="+cp.CallID); err != nil {
			return fmt.Errorf("cancel migration %s: %w", cp.CallID, err)
		}
		return nil
	}
	if _, err := l.SendWithResponse(ctx, cp.SetupRequest(true)); err != nil {
		return fmt.Errorf("migrate %s: %w", cp.CallID, err)
	}
	l.AddCall(cp)
	return nil
}

// BridgeOffline ends calls here that relay audio to or from peer.
func (l *Link) BridgeOffline(ctx context.Context, peer *Link) {
	key := peer.Key()
	for _, cp := range l.Calls() {
		if !strings.Contains(cp.CallID, key) {
			continue
		}
		if err := l.EndCall(ctx, cp.CallID); err != nil {
			l.logger.Warn().Err(err).Str("call", cp.CallID).Str("peer", peer.String()).Msg("failed to end relay to offline bridge")
		}
	}
}
