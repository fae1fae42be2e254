package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicebridge/internal/domain"
)

// Reconnector re-establishes calls lost with a bridge. Relay legs are
// dropped, the mix router recreates them on demand. Input-treatment calls are
// placed again by this process. Phone calls are told to redial through a
// BRIDGE_OFFLINE status naming the replacement bridge.
type Reconnector struct {
	pool   *Pool
	logger zerolog.Logger

	mu    sync.Mutex
	queue []domain.CallParticipant
	wake  chan struct{}
}

func newReconnector(p *Pool) *Reconnector {
	return &Reconnector{
		pool:   p,
		logger: log.With().Str("module", "app.reconnector").Logger(),
		wake:   make(chan struct{}, 1),
	}
}

func (r *Reconnector) Add(cps ...domain.CallParticipant) {
	if len(cps) == 0 {
		return
	}
	r.mu.Lock()
	r.queue = append(r.queue, cps...)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reconnector) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Reconnector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
			r.drain(ctx)
		}
	}
}

func (r *Reconnector) drain(ctx context.Context) {
	r.mu.Lock()
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	notified := false
	for i, cp := range batch {
		if cp.IsRelay() {
			r.logger.Debug().Str("call", cp.CallID).Msg("dropping relay leg")
			continue
		}

		link, err := r.pool.WaitForBridge(ctx)
		if err != nil {
			r.Add(batch[i:]...)
			return
		}
		r.pool.metrics.RecoveredCalls.Inc()

		if cp.InputTreatment != "" {
			placed, err := r.pool.InitiateCall(ctx, cp, "")
			switch {
			case err == nil:
				r.logger.Info().Str("call", cp.CallID).Str("bridge", placed.String()).Msg("restarted treatment call")
			case errors.Is(err, domain.ErrNoBridges):
				r.Add(cp)
			default:
				r.logger.Warn().Err(err).Str("call", cp.CallID).Msg("could not restart treatment call")
			}
			continue
		}

		r.logger.Info().Str("call", cp.CallID).Str("bridge", link.String()).Msg("asking call to reconnect")
		r.pool.events.Status.Publish(domain.NewCallStatus(domain.StatusBridgeOffline, cp.CallID, cp.ConferenceID, link.String()))
		notified = true
	}

	if notified {
		r.pool.events.Status.Publish(domain.NewCallStatus(domain.StatusBridgeOffline, "", "", ""))
	}
}
