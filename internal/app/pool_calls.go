package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/voicebridge/internal/adapters/bridge"
	"github.com/dkeye/voicebridge/internal/core"
	"github.com/dkeye/voicebridge/internal/domain"
)

// InitiateCall places cp on the bridge named by hint, or on the least loaded
// bridge. A bridge that fails at the transport level is taken offline and the
// next one is tried, so the caller only sees an error when no bridge can take
// the call.
func (p *Pool) InitiateCall(ctx context.Context, cp domain.CallParticipant, hint string) (*bridge.Link, error) {
	if _, ok := p.registry.LinkOf(cp.CallID); ok {
		return nil, fmt.Errorf("initiate %s: %w", cp.CallID, domain.ErrDuplicateCall)
	}

	var link *bridge.Link
	if hint != "" {
		if l, ok := p.FindBridge(hint); ok && l.Connected() {
			link = l
		}
	}

	for {
		if link == nil {
			l, err := p.GetBridgeConnection()
			if err != nil {
				return nil, fmt.Errorf("initiate %s: %w", cp.CallID, err)
			}
			link = l
		}

		err := p.SetupCallOn(ctx, link, cp)
		if err == nil {
			return link, nil
		}
		if !bridge.IsCommunication(err) || ctx.Err() != nil {
			return nil, err
		}
		p.logger.Warn().Err(err).Str("call", cp.CallID).Str("bridge", link.String()).Msg("call setup failed, trying another bridge")
		link = nil
	}
}

// SetupCallOn places cp on a specific bridge.
func (p *Pool) SetupCallOn(ctx context.Context, link *bridge.Link, cp domain.CallParticipant) error {
	if err := link.MonitorConference(ctx, cp.ConferenceID); err != nil {
		p.checkLink(ctx, link, err)
		return err
	}
	if !p.registry.Bind(cp, link) {
		return fmt.Errorf("setup %s: %w", cp.CallID, domain.ErrDuplicateCall)
	}
	if err := link.SetupCall(ctx, cp); err != nil {
		p.registry.Unbind(cp.CallID, link)
		p.checkLink(ctx, link, err)
		return err
	}
	p.metrics.Calls.Set(float64(p.registry.Len()))
	p.events.Calls.Publish(core.CallEvent{
		Kind:        core.CallBegan,
		CallID:      cp.CallID,
		Bridge:      link.String(),
		Participant: cp,
	})
	return nil
}

// RegisterCall records a call that another bridge set up on link's behalf,
// such as the receive leg of a relay.
func (p *Pool) RegisterCall(link *bridge.Link, cp domain.CallParticipant) error {
	if !p.registry.Bind(cp, link) {
		return fmt.Errorf("register %s: %w", cp.CallID, domain.ErrDuplicateCall)
	}
	link.AddCall(cp)
	p.metrics.Calls.Set(float64(p.registry.Len()))
	return nil
}

// EndCall cancels callID on its bridge and forgets the assignment. Transport
// failures take the bridge offline and are not reported to the caller.
func (p *Pool) EndCall(ctx context.Context, callID string) error {
	link, ok := p.registry.LinkOf(callID)
	if !ok {
		return fmt.Errorf("end %s: %w", callID, domain.ErrUnknownCall)
	}
	cp, ok := p.registry.Unbind(callID, link)
	if !ok {
		return nil
	}
	p.metrics.Calls.Set(float64(p.registry.Len()))

	err := link.EndCall(ctx, callID)
	p.publishEnded(cp, link, core.ReasonEnded)
	if err != nil {
		if p.checkLink(ctx, link, err) {
			return nil
		}
		return err
	}
	return nil
}

// ReportFailure lets components that write to link directly hand their
// errors to the pool. It reports whether link was taken offline.
func (p *Pool) ReportFailure(ctx context.Context, link *bridge.Link, err error) bool {
	return p.checkLink(ctx, link, err)
}

// checkLink takes link offline when err is a transport failure and reports
// whether it did.
func (p *Pool) checkLink(ctx context.Context, link *bridge.Link, err error) bool {
	if !bridge.IsCommunication(err) {
		return false
	}
	p.BridgeOffline(context.WithoutCancel(ctx), link)
	return true
}

func (p *Pool) withCall(ctx context.Context, callID string, fn func(*bridge.Link) error) error {
	link, err := p.GetBridgeConnectionFor(callID, false)
	if err != nil {
		return err
	}
	if err := fn(link); err != nil {
		p.checkLink(ctx, link, err)
		return err
	}
	return nil
}

func (p *Pool) CallParticipant(callID string) (domain.CallParticipant, bool) {
	return p.registry.Participant(callID)
}

func (p *Pool) Calls() []CallInfo { return p.registry.Snapshot() }

func (p *Pool) MuteCall(ctx context.Context, callID string, muted bool) error {
	err := p.withCall(ctx, callID, func(l *bridge.Link) error {
		return l.MuteCall(ctx, callID, muted)
	})
	if err == nil {
		p.registry.Update(callID, func(cp *domain.CallParticipant) { cp.Muted = muted })
	}
	return err
}

func (p *Pool) TransferCall(ctx context.Context, callID, conferenceID string) error {
	err := p.withCall(ctx, callID, func(l *bridge.Link) error {
		return l.TransferCall(ctx, callID, conferenceID)
	})
	if err == nil {
		p.registry.Update(callID, func(cp *domain.CallParticipant) { cp.ConferenceID = conferenceID })
	}
	return err
}

// MigrateCall moves cp's phone leg on its current bridge. A call without a
// bridge is allocated one.
func (p *Pool) MigrateCall(ctx context.Context, cp domain.CallParticipant, cancel bool) error {
	link, err := p.GetBridgeConnectionFor(cp.CallID, !cancel)
	if err != nil {
		return err
	}
	if err := link.MigrateCall(ctx, cp, cancel); err != nil {
		p.checkLink(ctx, link, err)
		return err
	}
	if !cancel && p.registry.Bind(cp, link) {
		p.metrics.Calls.Set(float64(p.registry.Len()))
	}
	return nil
}

func (p *Pool) StartInputTreatment(ctx context.Context, callID, treatment string) error {
	return p.withCall(ctx, callID, func(l *bridge.Link) error { return l.StartInputTreatment(ctx, callID, treatment) })
}

func (p *Pool) PauseInputTreatment(ctx context.Context, callID string, pause bool) error {
	return p.withCall(ctx, callID, func(l *bridge.Link) error { return l.PauseInputTreatment(ctx, callID, pause) })
}

func (p *Pool) ResumeInputTreatment(ctx context.Context, callID string) error {
	return p.withCall(ctx, callID, func(l *bridge.Link) error { return l.ResumeInputTreatment(ctx, callID) })
}

func (p *Pool) StopInputTreatment(ctx context.Context, callID string) error {
	return p.withCall(ctx, callID, func(l *bridge.Link) error { return l.StopInputTreatment(ctx, callID) })
}

func (p *Pool) RestartInputTreatment(ctx context.Context, callID string) error {
	return p.withCall(ctx, callID, func(l *bridge.Link) error { return l.RestartInputTreatment(ctx, callID) })
}

func (p *Pool) PlayTreatmentToCall(ctx context.Context, callID, treatment string) error {
	return p.withCall(ctx, callID, func(l *bridge.Link) error { return l.PlayTreatmentToCall(ctx, callID, treatment) })
}

func (p *Pool) PauseTreatmentToCall(ctx context.Context, callID, treatment string) error {
	return p.withCall(ctx, callID, func(l *bridge.Link) error { return l.PauseTreatmentToCall(ctx, callID, treatment) })
}

func (p *Pool) StopTreatmentToCall(ctx context.Context, callID, treatment string) error {
	return p.withCall(ctx, callID, func(l *bridge.Link) error { return l.StopTreatmentToCall(ctx, callID, treatment) })
}

func (p *Pool) StartRecordingToCall(ctx context.Context, callID, file string) error {
	return p.withCall(ctx, callID, func(l *bridge.Link) error { return l.StartRecordingToCall(ctx, callID, file) })
}

func (p *Pool) StopRecordingToCall(ctx context.Context, callID string) error {
	return p.withCall(ctx, callID, func(l *bridge.Link) error { return l.StopRecordingToCall(ctx, callID) })
}

// ForwardData copies source's audio to target; both must share a bridge.
func (p *Pool) ForwardData(ctx context.Context, targetCallID, sourceCallID string) error {
	src, err := p.GetBridgeConnectionFor(sourceCallID, false)
	if err != nil {
		return err
	}
	return p.withCall(ctx, targetCallID, func(l *bridge.Link) error {
		if l != src {
			return errors.New("forward data: calls are on different bridges")
		}
		return l.ForwardData(ctx, targetCallID, sourceCallID)
	})
}
