// Package orch wires the bridge pool, the mix router and the spatial mixer
// into one process-wide context object.
package orch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/voicebridge/internal/adapters/bridge"
	"github.com/dkeye/voicebridge/internal/app"
	"github.com/dkeye/voicebridge/internal/app/mixrouter"
	"github.com/dkeye/voicebridge/internal/app/spatial"
	"github.com/dkeye/voicebridge/internal/config"
	"github.com/dkeye/voicebridge/internal/core"
	"github.com/dkeye/voicebridge/internal/domain"
	"github.com/dkeye/voicebridge/internal/metrics"
)

type Orchestrator struct {
	Pool    *app.Pool
	Router  *mixrouter.Router
	Mixer   *spatial.Mixer
	Events  *core.Events
	Metrics *metrics.Metrics
	Config  *config.Config

	logger zerolog.Logger
	unsubs []func()

	mu sync.Mutex
	// placed remembers what was asked for so a call lost with its bridge can
	// be placed again on the bridge the recovery loop found.
	placed map[string]domain.CallParticipant
}

func New(cfg *config.Config, m *metrics.Metrics) *Orchestrator {
	events := core.NewEvents()
	pool := app.NewPool(app.PoolOptions{
		Link: bridge.Options{
			WatchdogTimeout: cfg.Bridge.WatchdogTimeout,
			PingTimeout:     cfg.Bridge.PingTimeout,
			DialTimeout:     cfg.Bridge.DialTimeout,
			Metrics:         m,
		},
		Conference: cfg.Bridge.Conference,
	}, events, m)
	router := mixrouter.New(mixrouter.NewPoolBridges(pool), mixrouter.OptionsFromConfig(cfg.Router), m)

	o := &Orchestrator{
		Pool:    pool,
		Router:  router,
		Mixer:   spatial.New(cfg.Spatial, router, events, m),
		Events:  events,
		Metrics: m,
		Config:  cfg,
		logger:  log.With().Str("module", "app.orch").Logger(),
		placed:  make(map[string]domain.CallParticipant),
	}
	o.unsubs = append(o.unsubs,
		events.Status.Subscribe(o.onStatus),
		events.Calls.Subscribe(o.onCall),
		events.Bridges.Subscribe(o.onBridge),
	)
	return o
}

// Run starts the background loops, connects the configured bridges and
// blocks until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg conc.WaitGroup
	wg.Go(func() { o.Pool.Reconnector().Run(ctx) })
	wg.Go(func() { o.Router.Run(ctx) })

	if addr := o.Config.Bridge.AnnounceAddr; addr != "" {
		if bound, err := o.Pool.ListenAnnouncements(ctx, addr); err != nil {
			o.logger.Error().Err(err).Str("addr", addr).Msg("announcement listener failed")
		} else {
			o.logger.Info().Str("addr", bound.String()).Msg("listening for bridge announcements")
		}
	}

	for _, server := range o.Config.Bridge.Servers {
		if _, err := o.Pool.Connect(ctx, server); err != nil {
			o.logger.Warn().Err(err).Str("bridge", server).Msg("bootstrap bridge unavailable")
		}
	}

	<-ctx.Done()
	wg.Wait()
}

// Commit flushes the mixes queued since the last commit.
func (o *Orchestrator) Commit(ctx context.Context) {
	o.Router.Flush(ctx)
}

// Close stops event routing and disconnects every bridge.
func (o *Orchestrator) Close() {
	for _, unsub := range o.unsubs {
		unsub()
	}
	o.Pool.Close()
}
