package bridge

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicebridge/internal/domain"
	"github.com/dkeye/voicebridge/internal/metrics"
)

const (
	StateDisconnected = "disconnected"
	StateConnected    = "connected"
	StateDegraded     = "degraded"
)

type Options struct {
	WatchdogTimeout time.Duration
	PingTimeout     time.Duration
	DialTimeout     time.Duration
	Metrics         *metrics.Metrics
}

// Link is the control connection to one bridge. Request/response traffic runs
// on a synchronous connection; mix updates and the asynchronous call status
// stream share a second connection.
type Link struct {
	addr   domain.BridgeAddress
	opts   Options
	logger zerolog.Logger
	state  *fsm.FSM

	reqMu sync.Mutex // one request in flight

	connMu sync.Mutex
	ctrl   net.Conn
	ctrlR  *bufio.Reader
	data   net.Conn
	cancel context.CancelFunc

	dataMu sync.Mutex // serializes writes on data

	publicAddress atomic.Value // string
	lastPing      atomic.Int64

	mu          sync.RWMutex
	calls       map[string]domain.CallParticipant
	conferences map[string]struct{}
	onOffline   func(*Link)
	onStatus    func(*Link, domain.CallStatus)

	offlineOnce sync.Once
}

func New(addr domain.BridgeAddress, opts Options) *Link {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	l := &Link{
		addr: addr,
		opts: opts,
		logger: log.With().
			Str("module", "bridge").
			Str("bridge", addr.String()).
			Logger(),
		calls:       make(map[string]domain.CallParticipant),
		conferences: make(map[string]struct{}),
	}
	l.publicAddress.Store(fmt.Sprintf("%s:%d", addr.PublicHost, addr.PublicSipPort))
	l.state = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: "connect", Src: []string{StateDisconnected}, Dst: StateConnected},
			{Name: "degrade", Src: []string{StateConnected}, Dst: StateDegraded},
			{Name: "recover", Src: []string{StateDegraded}, Dst: StateConnected},
			{Name: "disconnect", Src: []string{StateConnected, StateDegraded}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.logger.Info().Str("from", e.Src).Str("to", e.Dst).Msg("bridge state")
			},
		},
	)
	return l
}

// OnOffline registers the callback fired once when the link is lost.
func (l *Link) OnOffline(fn func(*Link)) {
	l.mu.Lock()
	l.onOffline = fn
	l.mu.Unlock()
}

// OnStatus registers the callback for asynchronous call status lines.
func (l *Link) OnStatus(fn func(*Link, domain.CallStatus)) {
	l.mu.Lock()
	l.onStatus = fn
	l.mu.Unlock()
}

func (l *Link) Address() domain.BridgeAddress { return l.addr }

func (l *Link) Key() string { return l.addr.Key() }

func (l *Link) String() string { return l.addr.String() }

// PublicAddress is the host:port the bridge announced in its banner.
func (l *Link) PublicAddress() string { return l.publicAddress.Load().(string) }

func (l *Link) State() string { return l.state.Current() }

// Connected reports whether the sockets are up, degraded or not.
func (l *Link) Connected() bool { return !l.state.Is(StateDisconnected) }

// Healthy reports whether the link is connected and has been heard from
// within the ping window.
func (l *Link) Healthy() bool { return l.state.Is(StateConnected) }

func (l *Link) LastPing() time.Time {
	n := l.lastPing.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// GotPing records that the bridge is alive.
func (l *Link) GotPing() {
	l.lastPing.Store(time.Now().UnixNano())
	l.transition("recover")
}

func (l *Link) transition(event string) {
	if !l.state.Can(event) {
		return
	}
	if err := l.state.Event(context.Background(), event); err != nil {
		l.logger.Debug().Err(err).Str("event", event).Msg("state transition skipped")
	}
}

// Connect opens both connections and performs the handshake. Connecting an
// already connected link replaces its sockets.
func (l *Link) Connect(ctx context.Context) error {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.ctrl != nil {
		l.closeLocked()
	}

	ctrl, ctrlR, banner, err := l.dial(ctx, handshakeSync)
	if err != nil {
		return err
	}
	if pub, ok := parseBanner(banner); ok {
		l.publicAddress.Store(pub)
	} else {
		l.logger.Warn().Str("banner", banner).Msg("bridge banner without public address")
	}

	data, dataR, _, err := l.dial(ctx, handshakeAsync)
	if err != nil {
		_ = ctrl.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l.ctrl, l.ctrlR, l.data, l.cancel = ctrl, ctrlR, data, cancel
	l.lastPing.Store(time.Now().UnixNano())
	l.transition("connect")

	go l.readStatus(runCtx, dataR)
	if l.opts.PingTimeout > 0 {
		go l.watchLiveness(runCtx)
	}

	l.logger.Info().Str("public_address", l.PublicAddress()).Msg("connected to bridge")
	return nil
}

func (l *Link) dial(ctx context.Context, hello string) (net.Conn, *bufio.Reader, string, error) {
	d := net.Dialer{Timeout: l.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", l.addr.ControlAddr())
	if err != nil {
		return nil, nil, "", commErr("dial %s: %v", l.addr.ControlAddr(), err)
	}

	_ = conn.SetDeadline(time.Now().Add(l.opts.DialTimeout))
	if _, err := conn.Write([]byte(hello + "\n")); err != nil {
		_ = conn.Close()
		return nil, nil, "", commErr("handshake write: %v", err)
	}
	r := bufio.NewReader(conn)
	banner, err := r.ReadString('\n')
	if err != nil {
		_ = conn.Close()
		return nil, nil, "", commErr("handshake read: %v", err)
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, r, strings.TrimRight(banner, "\r\n"), nil
}

// Disconnect closes the sockets. It does not fire the offline callback.
func (l *Link) Disconnect() {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.closeLocked()
}

func (l *Link) closeLocked() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.ctrl != nil {
		_ = l.ctrl.Close()
		l.ctrl, l.ctrlR = nil, nil
	}
	if l.data != nil {
		_ = l.data.Close()
		l.data = nil
	}
	l.transition("disconnect")
}

// fail tears the link down and fires the offline callback. It runs at most
// once per Link; a bridge that comes back gets a new Link.
func (l *Link) fail(reason error) {
	l.offlineOnce.Do(func() {
		l.logger.Warn().Err(reason).Msg("bridge offline")
		l.Disconnect()

		l.mu.RLock()
		fn := l.onOffline
		l.mu.RUnlock()
		if fn != nil {
			fn(l)
		}
	})
}

// SendCommand writes lines on the data connection without waiting for a
// reply. A batch goes out as a single write.
func (l *Link) SendCommand(lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	l.connMu.Lock()
	conn := l.data
	l.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: %w", ErrCommunication, ErrNotConnected)
	}

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(strings.TrimRight(line, "\n"))
		b.WriteByte('\n')
	}

	l.dataMu.Lock()
	defer l.dataMu.Unlock()
	if _, err := conn.Write([]byte(b.String())); err != nil {
		return commErr("write %d lines: %v", len(lines), err)
	}
	return nil
}

// SendWithResponse writes cmd on the control connection and waits for the
// END sentinel. The watchdog, when enabled, closes the connection if the
// bridge does not answer in time; the pending read then fails.
func (l *Link) SendWithResponse(ctx context.Context, cmd string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	l.reqMu.Lock()
	defer l.reqMu.Unlock()

	l.connMu.Lock()
	conn, r := l.ctrl, l.ctrlR
	l.connMu.Unlock()
	if conn == nil {
		return Response{}, fmt.Errorf("%w: %w", ErrCommunication, ErrNotConnected)
	}

	var expired atomic.Bool
	if l.opts.WatchdogTimeout > 0 {
		watchdog := time.AfterFunc(l.opts.WatchdogTimeout, func() {
			expired.Store(true)
			l.opts.Metrics.WatchdogFired.Inc()
			_ = conn.Close()
			l.fail(commErr("watchdog expired after %s waiting for %s", l.opts.WatchdogTimeout, commandName(cmd)))
		})
		defer watchdog.Stop()
	}

	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	if _, err := conn.Write([]byte(cmd)); err != nil {
		l.opts.Metrics.BridgeCommands.WithLabelValues("error").Inc()
		return Response{}, commErr("write %s: %v", commandName(cmd), err)
	}

	resp, err := ReadResponse(r)
	if err != nil {
		l.opts.Metrics.BridgeCommands.WithLabelValues("error").Inc()
		if expired.Load() {
			return Response{}, commErr("watchdog expired after %s waiting for %s", l.opts.WatchdogTimeout, commandName(cmd))
		}
		return Response{}, fmt.Errorf("%s: %w", commandName(cmd), err)
	}

	l.lastPing.Store(time.Now().UnixNano())
	if resp.Status != StatusSuccess {
		l.opts.Metrics.BridgeCommands.WithLabelValues("failure").Inc()
		return resp, &CommandError{Command: commandName(cmd), Response: resp}
	}
	l.opts.Metrics.BridgeCommands.WithLabelValues("success").Inc()
	return resp, nil
}

func (l *Link) readStatus(ctx context.Context, r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				l.fail(commErr("status stream: %v", err))
			}
			return
		}
		l.GotPing()

		line = strings.TrimRight(line, "\r\n")
		if line == "" || endRE.MatchString(line) {
			continue
		}
		st, err := domain.ParseCallStatus(line)
		if err != nil {
			l.logger.Debug().Str("line", line).Msg("ignoring non-status line")
			continue
		}
		l.handleStatus(st)
	}
}

func (l *Link) handleStatus(st domain.CallStatus) {
	if st.Code == domain.StatusEnded {
		l.RemoveCall(st.CallID)
	}

	l.mu.RLock()
	fn := l.onStatus
	l.mu.RUnlock()
	if fn != nil {
		fn(l, st)
	}
}

func (l *Link) watchLiveness(ctx context.Context) {
	ticker := time.NewTicker(l.opts.PingTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(l.LastPing()) > l.opts.PingTimeout {
				if l.state.Is(StateConnected) {
					l.logger.Warn().Time("last_ping", l.LastPing()).Msg("no ping from bridge")
				}
				l.transition("degrade")
			}
		}
	}
}

// Info is a read-only view of the link for APIs.
type Info struct {
	Address       string    `json:"address"`
	PublicAddress string    `json:"public_address"`
	State         string    `json:"state"`
	Calls         int       `json:"calls"`
	Conferences   []string  `json:"conferences"`
	LastPing      time.Time `json:"last_ping"`
}

func (l *Link) Info() Info {
	return Info{
		Address:       l.addr.String(),
		PublicAddress: l.PublicAddress(),
		State:         l.State(),
		Calls:         l.NumCalls(),
		Conferences:   l.Conferences(),
		LastPing:      l.LastPing(),
	}
}

func (l *Link) Conferences() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.conferences))
	for c := range l.conferences {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

func (l *Link) IsMonitoring(conferenceID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.conferences[conferenceID]
	return ok
}
