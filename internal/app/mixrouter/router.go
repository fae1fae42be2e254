// Package mixrouter turns per-pair mixes into bridge commands. Pairs on the
// same bridge get a direct pmx; pairs on different bridges go through a relay
// call pair that the router creates on demand and tears down after a grace
// period once nothing references it.
package mixrouter

import (
	"context"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/dkeye/voicebridge/internal/config"
	"github.com/dkeye/voicebridge/internal/domain"
	"github.com/dkeye/voicebridge/internal/metrics"
)

const (
	pathDirect = "direct"
	pathRelay  = "relay"
)

type Options struct {
	RelayGrace     time.Duration
	ReaperInterval time.Duration
	// FlushInterval drives the periodic flush in Run; 0 leaves flushing to
	// the caller.
	FlushInterval time.Duration
	// Workers bounds the flush pool; 0 means runtime.NumCPU().
	Workers int
}

func OptionsFromConfig(cfg config.RouterConfig) Options {
	return Options{
		RelayGrace:     cfg.RelayGrace,
		ReaperInterval: cfg.ReaperInterval,
		FlushInterval:  cfg.FlushInterval,
		Workers:        cfg.Workers,
	}
}

type Router struct {
	bridges Bridges
	opts    Options
	metrics *metrics.Metrics
	logger  zerolog.Logger

	pendingMu sync.Mutex
	pending   map[string]map[string]domain.Mix

	flushMu sync.Mutex

	mu        sync.Mutex
	relays    map[string]*relay
	byReceive map[string]*relay
	ending    map[string]chan struct{}
}

func New(bridges Bridges, opts Options, m *metrics.Metrics) *Router {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.ReaperInterval <= 0 {
		opts.ReaperInterval = time.Second
	}
	return &Router{
		bridges:   bridges,
		opts:      opts,
		metrics:   m,
		logger:    log.With().Str("module", "app.mixrouter").Logger(),
		pending:   make(map[string]map[string]domain.Mix),
		relays:    make(map[string]*relay),
		byReceive: make(map[string]*relay),
		ending:    make(map[string]chan struct{}),
	}
}

// SetMix queues mix for target hearing source. A newer value for the same
// pair replaces the queued one.
func (r *Router) SetMix(source, target string, mix domain.Mix) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	targets, ok := r.pending[source]
	if !ok {
		targets = make(map[string]domain.Mix)
		r.pending[source] = targets
	}
	if _, ok := targets[target]; ok {
		r.metrics.MixCoalesced.Inc()
	}
	targets[target] = mix
}

// requeue puts back a mix that could not be routed unless a newer one for
// the pair arrived meanwhile.
func (r *Router) requeue(source, target string, mix domain.Mix) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	targets, ok := r.pending[source]
	if !ok {
		targets = make(map[string]domain.Mix)
		r.pending[source] = targets
	}
	if _, ok := targets[target]; !ok {
		targets[target] = mix
	}
}

// Pending returns the number of queued pairs.
func (r *Router) Pending() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	n := 0
	for _, targets := range r.pending {
		n += len(targets)
	}
	return n
}

// batch collects the pmx lines for one bridge.
type batch struct {
	link  Link
	lines []string
	paths map[string]int
}

func (b *batch) add(line, path string) {
	b.lines = append(b.lines, line)
	b.paths[path]++
}

type batches map[string]*batch

func (bs batches) forLink(l Link) *batch {
	b, ok := bs[l.Key()]
	if !ok {
		b = &batch{link: l, paths: make(map[string]int)}
		bs[l.Key()] = b
	}
	return b
}

// Flush drains the queued mixes, one task per source, and writes every
// bridge's lines as a single command. Flushes never overlap.
func (r *Router) Flush(ctx context.Context) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.pendingMu.Lock()
	drained := r.pending
	r.pending = make(map[string]map[string]domain.Mix)
	r.pendingMu.Unlock()
	if len(drained) == 0 {
		return
	}

	p := pool.NewWithResults[batches]().WithMaxGoroutines(r.opts.Workers)
	for _, source := range slices.Sorted(maps.Keys(drained)) {
		targets := drained[source]
		p.Go(func() batches {
			return r.flushSource(ctx, source, targets)
		})
	}

	merged := make(batches)
	for _, bs := range p.Wait() {
		for _, b := range bs {
			m := merged.forLink(b.link)
			m.lines = append(m.lines, b.lines...)
			for path, n := range b.paths {
				m.paths[path] += n
			}
		}
	}
	r.send(ctx, merged)
}

func (r *Router) flushSource(ctx context.Context, source string, targets map[string]domain.Mix) batches {
	out := make(batches)
	from, ok := r.bridges.LinkFor(source)
	if !ok {
		r.logger.Debug().Str("source", source).Int("targets", len(targets)).Msg("dropping mixes of call without bridge")
		return out
	}
	for _, target := range slices.Sorted(maps.Keys(targets)) {
		mix := targets[target]
		to, ok := r.bridges.LinkFor(target)
		if !ok {
			r.logger.Debug().Str("source", source).Str("target", target).Msg("dropping mix for call without bridge")
			continue
		}
		if from.Key() == to.Key() {
			out.forLink(from).add(mix.Command(source, target), pathDirect)
			continue
		}
		if mix.IsSilent() {
			if rl := r.releaseRelay(source, to.Key(), target); rl != nil {
				out.forLink(to).add(mix.Command(rl.receiveID, target), pathRelay)
			}
			continue
		}
		rl, err := r.ensureRelay(ctx, source, from, to, target)
		if err != nil {
			r.logger.Warn().Err(err).Str("source", source).Str("target", target).Msg("relay unavailable, mix requeued")
			r.requeue(source, target, mix)
			continue
		}
		r.remember(rl, target, mix)
		out.forLink(to).add(mix.Command(rl.receiveID, target), pathRelay)
	}
	return out
}

// remember keeps the freshest mix per target while rl's receive leg is not
// established. The bridge ignores a pmx for a call it has not set up yet, so
// CallEstablished replays these.
func (r *Router) remember(rl *relay, target string, mix domain.Mix) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !rl.established {
		rl.deferred[target] = mix
	}
}

// send writes each batch to its bridge. A failed write is reported to the
// pool, which takes the bridge offline on transport errors.
func (r *Router) send(ctx context.Context, bs batches) {
	p := pool.New().WithMaxGoroutines(r.opts.Workers)
	for _, key := range slices.Sorted(maps.Keys(bs)) {
		b := bs[key]
		if len(b.lines) == 0 {
			continue
		}
		p.Go(func() {
			if err := b.link.SendCommand(b.lines...); err != nil {
				r.logger.Warn().Err(err).Str("bridge", b.link.String()).Int("mixes", len(b.lines)).Msg("failed to send mixes")
				r.bridges.ReportFailure(ctx, b.link, err)
				return
			}
			for path, n := range b.paths {
				r.metrics.MixCommands.WithLabelValues(path).Add(float64(n))
			}
		})
	}
	p.Wait()
}

// Run reaps expired relays every ReaperInterval and, when FlushInterval is
// set, flushes queued mixes. It returns when ctx is done.
func (r *Router) Run(ctx context.Context) {
	reaper := time.NewTicker(r.opts.ReaperInterval)
	defer reaper.Stop()

	var flush <-chan time.Time
	if r.opts.FlushInterval > 0 {
		t := time.NewTicker(r.opts.FlushInterval)
		defer t.Stop()
		flush = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-reaper.C:
			r.reap(ctx)
		case <-flush:
			r.Flush(ctx)
		}
	}
}
