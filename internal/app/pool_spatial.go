package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dkeye/voicebridge/internal/adapters/bridge"
)

// broadcast runs fn against every connected bridge concurrently and returns
// the first error once all have finished.
func (p *Pool) broadcast(ctx context.Context, op string, fn func(context.Context, *bridge.Link) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range p.Links() {
		if !l.Connected() {
			continue
		}
		g.Go(func() error {
			if err := fn(gctx, l); err != nil {
				p.checkLink(ctx, l, err)
				return fmt.Errorf("%s on %s: %w", op, l, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) SetSpatialAudio(ctx context.Context, enabled bool) error {
	return p.broadcast(ctx, "spatial audio", func(ctx context.Context, l *bridge.Link) error {
		return l.SetSpatialAudio(ctx, enabled)
	})
}

func (p *Pool) SetSpatialMinVolume(ctx context.Context, v float64) error {
	return p.broadcast(ctx, "spatial min volume", func(ctx context.Context, l *bridge.Link) error {
		return l.SetSpatialMinVolume(ctx, v)
	})
}

func (p *Pool) SetSpatialFalloff(ctx context.Context, v float64) error {
	return p.broadcast(ctx, "spatial falloff", func(ctx context.Context, l *bridge.Link) error {
		return l.SetSpatialFalloff(ctx, v)
	})
}

func (p *Pool) SetSpatialEchoDelay(ctx context.Context, v float64) error {
	return p.broadcast(ctx, "spatial echo delay", func(ctx context.Context, l *bridge.Link) error {
		return l.SetSpatialEchoDelay(ctx, v)
	})
}

func (p *Pool) SetSpatialEchoVolume(ctx context.Context, v float64) error {
	return p.broadcast(ctx, "spatial echo volume", func(ctx context.Context, l *bridge.Link) error {
		return l.SetSpatialEchoVolume(ctx, v)
	})
}

func (p *Pool) SetSpatialBehindVolume(ctx context.Context, v float64) error {
	return p.broadcast(ctx, "spatial behind volume", func(ctx context.Context, l *bridge.Link) error {
		return l.SetSpatialBehindVolume(ctx, v)
	})
}

// Suspend pauses every bridge, e.g. before a maintenance window.
func (p *Pool) Suspend(ctx context.Context) error {
	return p.broadcast(ctx, "suspend", func(ctx context.Context, l *bridge.Link) error {
		return l.Suspend(ctx)
	})
}

func (p *Pool) Resume(ctx context.Context) error {
	return p.broadcast(ctx, "resume", func(ctx context.Context, l *bridge.Link) error {
		return l.Resume(ctx)
	})
}
