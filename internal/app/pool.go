package app

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/voicebridge/internal/adapters/bridge"
	"github.com/dkeye/voicebridge/internal/core"
	"github.com/dkeye/voicebridge/internal/domain"
	"github.com/dkeye/voicebridge/internal/metrics"
)

type PoolOptions struct {
	Link bridge.Options
	// Conference is monitored on the first bridge when no peer has any.
	Conference string
	Policy     Policy
}

// Pool owns the bridge links, places calls on them and recovers calls when a
// bridge goes away. Remote I/O never happens while mu is held.
type Pool struct {
	opts     PoolOptions
	events   *core.Events
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	registry *Registry
	recovery *Reconnector
	connects singleflight.Group

	mu    sync.Mutex
	links []*bridge.Link
	ready chan struct{} // closed and replaced whenever a link joins
}

func NewPool(opts PoolOptions, events *core.Events, m *metrics.Metrics) *Pool {
	if opts.Policy == nil {
		opts.Policy = LeastLoaded{}
	}
	if opts.Link.Metrics == nil {
		opts.Link.Metrics = m
	}
	p := &Pool{
		opts:     opts,
		events:   events,
		metrics:  m,
		logger:   log.With().Str("module", "app.pool").Logger(),
		registry: NewRegistry(),
		ready:    make(chan struct{}),
	}
	p.recovery = newReconnector(p)
	return p
}

func (p *Pool) Registry() *Registry { return p.registry }

func (p *Pool) Reconnector() *Reconnector { return p.recovery }

// Connect adds the bridge at address to the pool. A bridge that is already
// connected only counts as a ping; a known but dead one is replaced.
func (p *Pool) Connect(ctx context.Context, address string) (*bridge.Link, error) {
	addr, err := domain.ParseBridgeAddress(address)
	if err != nil {
		return nil, err
	}

	v, err, _ := p.connects.Do(addr.String(), func() (any, error) {
		return p.connect(ctx, addr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*bridge.Link), nil
}

func (p *Pool) connect(ctx context.Context, addr domain.BridgeAddress) (*bridge.Link, error) {
	stale := p.find(addr)
	if stale != nil && stale.Connected() {
		stale.GotPing()
		return stale, nil
	}

	link := bridge.New(addr, p.opts.Link)
	link.OnOffline(func(l *bridge.Link) {
		p.BridgeOffline(context.Background(), l)
	})
	link.OnStatus(p.onStatus)
	if err := link.Connect(ctx); err != nil {
		return nil, err
	}

	confs := p.monitoredConferences()
	if len(confs) == 0 && p.opts.Conference != "" {
		confs = []string{p.opts.Conference}
	}
	for _, conf := range confs {
		if err := link.MonitorConference(ctx, conf); err != nil {
			link.Disconnect()
			return nil, fmt.Errorf("connect %s: %w", addr, err)
		}
	}

	p.mu.Lock()
	p.links = append(p.links, link)
	close(p.ready)
	p.ready = make(chan struct{})
	n := len(p.links)
	p.mu.Unlock()

	p.metrics.BridgesConnected.Set(float64(n))
	p.logger.Info().Str("bridge", addr.String()).Int("bridges", n).Msg("bridge joined pool")
	p.events.Bridges.Publish(core.BridgeEvent{Address: addr.String(), Key: addr.Key(), Up: true})

	if stale != nil {
		p.logger.Info().Str("bridge", addr.String()).Msg("replacing stale bridge link")
		p.BridgeOffline(ctx, stale)
	}
	return link, nil
}

func (p *Pool) find(addr domain.BridgeAddress) *bridge.Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.links {
		if l.Address() == addr {
			return l
		}
	}
	return nil
}

// FindBridge looks a link up by its address string.
func (p *Pool) FindBridge(address string) (*bridge.Link, bool) {
	addr, err := domain.ParseBridgeAddress(address)
	if err != nil {
		return nil, false
	}
	l := p.find(addr)
	return l, l != nil
}

func (p *Pool) monitoredConferences() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range p.Links() {
		for _, c := range l.Conferences() {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	slices.Sort(out)
	return out
}

// Links returns a snapshot of the pool in join order.
func (p *Pool) Links() []*bridge.Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.links)
}

// GetBridgeConnection picks a bridge for a new call.
func (p *Pool) GetBridgeConnection() (*bridge.Link, error) {
	if l := p.opts.Policy.Select(p.Links()); l != nil {
		return l, nil
	}
	return nil, domain.ErrNoBridges
}

// GetBridgeConnectionFor returns the bridge hosting callID. Unknown calls get
// a fresh bridge when allocate is set.
func (p *Pool) GetBridgeConnectionFor(callID string, allocate bool) (*bridge.Link, error) {
	if l, ok := p.registry.LinkOf(callID); ok {
		return l, nil
	}
	if !allocate {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCall, callID)
	}
	return p.GetBridgeConnection()
}

// LinkFor is GetBridgeConnectionFor without allocation.
func (p *Pool) LinkFor(callID string) (*bridge.Link, bool) {
	return p.registry.LinkOf(callID)
}

// WaitForBridge blocks until some bridge is connected.
func (p *Pool) WaitForBridge(ctx context.Context) (*bridge.Link, error) {
	for {
		p.mu.Lock()
		ready := p.ready
		p.mu.Unlock()

		if l, err := p.GetBridgeConnection(); err == nil {
			return l, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ready:
		}
	}
}

// BridgeOffline removes link from the pool. Only the first caller for a given
// link does any work.
func (p *Pool) BridgeOffline(ctx context.Context, link *bridge.Link) {
	p.mu.Lock()
	i := slices.Index(p.links, link)
	if i < 0 {
		p.mu.Unlock()
		return
	}
	p.links = slices.Delete(p.links, i, i+1)
	peers := slices.Clone(p.links)
	p.mu.Unlock()

	link.Disconnect()
	p.metrics.BridgeOffline.Inc()
	p.metrics.BridgesConnected.Set(float64(len(peers)))
	p.logger.Warn().Str("bridge", link.String()).Int("bridges", len(peers)).Msg(core.ReasonBridgeOffline)
	p.events.Bridges.Publish(core.BridgeEvent{Address: link.String(), Key: link.Key(), Up: false})

	for _, id := range p.registry.RelaysTouching(link.Key(), link) {
		if err := p.EndCall(ctx, id); err != nil {
			p.logger.Warn().Err(err).Str("call", id).Msg("failed to end relay leg to offline bridge")
		}
	}
	for _, peer := range peers {
		peer.BridgeOffline(ctx, link)
	}

	hosted := p.registry.Release(link)
	for _, cp := range hosted {
		link.RemoveCall(cp.CallID)
		p.publishEnded(cp, link, core.ReasonBridgeOffline)
	}
	p.metrics.Calls.Set(float64(p.registry.Len()))
	p.recovery.Add(hosted...)
}

func (p *Pool) onStatus(link *bridge.Link, st domain.CallStatus) {
	if st.Code == domain.StatusEnded && st.CallID != "" {
		if cp, ok := p.registry.Unbind(st.CallID, link); ok {
			p.metrics.Calls.Set(float64(p.registry.Len()))
			p.publishEnded(cp, link, core.ReasonEndedByBridge)
		}
	}
	p.events.Status.Publish(st)
}

func (p *Pool) publishEnded(cp domain.CallParticipant, link *bridge.Link, reason string) {
	p.events.Calls.Publish(core.CallEvent{
		Kind:        core.CallEnded,
		CallID:      cp.CallID,
		Bridge:      link.String(),
		Reason:      reason,
		Participant: cp,
	})
}

// Close disconnects every bridge without triggering recovery.
func (p *Pool) Close() {
	p.mu.Lock()
	links := p.links
	p.links = nil
	p.mu.Unlock()
	for _, l := range links {
		l.OnOffline(nil)
		l.Disconnect()
	}
	p.metrics.BridgesConnected.Set(0)
}
