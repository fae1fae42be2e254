package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicebridge/internal/adapters/bridge"
	"github.com/dkeye/voicebridge/internal/adapters/bridge/bridgetest"
	"github.com/dkeye/voicebridge/internal/core"
	"github.com/dkeye/voicebridge/internal/domain"
	"github.com/dkeye/voicebridge/internal/metrics"
)

func newTestPool(t *testing.T, opts PoolOptions) (*Pool, *core.Events) {
	t.Helper()
	events := core.NewEvents()
	p := NewPool(opts, events, metrics.NewNop())
	t.Cleanup(p.Close)
	return p, events
}

func mustConnect(t *testing.T, p *Pool, srv *bridgetest.Server) *bridge.Link {
	t.Helper()
	l, err := p.Connect(context.Background(), srv.Address().String())
	require.NoError(t, err)
	return l
}

type recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

func record[T any](bus *core.Bus[T]) *recorder[T] {
	r := &recorder[T]{}
	bus.Subscribe(func(v T) {
		r.mu.Lock()
		r.got = append(r.got, v)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.got...)
}

func TestGetBridgeConnectionPrefersFewestCalls(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{})
	l1 := mustConnect(t, p, bridgetest.NewServer(t, 5060))
	l2 := mustConnect(t, p, bridgetest.NewServer(t, 5062))

	for _, id := range []string{"a", "b"} {
		l1.AddCall(domain.CallParticipant{CallID: id})
	}
	for _, id := range []string{"c", "d", "e", "f", "g"} {
		l2.AddCall(domain.CallParticipant{CallID: id})
	}

	got, err := p.GetBridgeConnection()
	require.NoError(t, err)
	assert.Same(t, l1, got)

	l1.Disconnect()
	got, err = p.GetBridgeConnection()
	require.NoError(t, err)
	assert.Same(t, l2, got)

	l2.Disconnect()
	_, err = p.GetBridgeConnection()
	assert.ErrorIs(t, err, domain.ErrNoBridges)
	assert.EqualError(t, err, "no voice bridges available")
}

func TestConnectKnownBridgeCountsAsPing(t *testing.T) {
	p, events := newTestPool(t, PoolOptions{})
	ups := record(events.Bridges)
	srv := bridgetest.NewServer(t, 5060)

	l1 := mustConnect(t, p, srv)
	l2 := mustConnect(t, p, srv)

	assert.Same(t, l1, l2)
	assert.Len(t, p.Links(), 1)
	assert.Len(t, ups.all(), 1)
}

func TestConnectRejectsBadAddress(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{})
	_, err := p.Connect(context.Background(), "nonsense")
	assert.ErrorIs(t, err, domain.ErrBadAddress)
}

func TestConnectReplicatesMonitoredConferences(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{Conference: "Lobby"})
	a := bridgetest.NewServer(t, 5060)
	b := bridgetest.NewServer(t, 5062)

	la := mustConnect(t, p, a)
	require.NoError(t, la.MonitorConference(context.Background(), "Cafe"))
	mustConnect(t, p, b)

	assert.Equal(t, []string{"cc=Lobby", "cc=Cafe"}, a.RequestsWithPrefix("cc="))
	assert.Equal(t, []string{"cc=Cafe", "cc=Lobby"}, b.RequestsWithPrefix("cc="))
}

func TestInitiateCallIsSticky(t *testing.T) {
	p, events := newTestPool(t, PoolOptions{})
	calls := record(events.Calls)
	a := bridgetest.NewServer(t, 5060)
	b := bridgetest.NewServer(t, 5062)
	mustConnect(t, p, a)
	lb := mustConnect(t, p, b)
	ctx := context.Background()

	cp := domain.CallParticipant{CallID: "1", ConferenceID: "Lobby", PhoneNumber: "sip:1@example.com"}
	placed, err := p.InitiateCall(ctx, cp, b.Address().String())
	require.NoError(t, err)
	assert.Same(t, lb, placed)

	got, err := p.GetBridgeConnectionFor("1", false)
	require.NoError(t, err)
	assert.Same(t, lb, got)
	assert.Len(t, b.RequestsWithPrefix("callId=1"), 1)

	_, err = p.InitiateCall(ctx, cp, "")
	assert.ErrorIs(t, err, domain.ErrDuplicateCall)

	_, err = p.GetBridgeConnectionFor("nobody", false)
	assert.ErrorIs(t, err, domain.ErrUnknownCall)
	alloc, err := p.GetBridgeConnectionFor("nobody", true)
	require.NoError(t, err)
	assert.NotNil(t, alloc)

	evs := calls.all()
	require.Len(t, evs, 1)
	assert.Equal(t, core.CallBegan, evs[0].Kind)
}

func TestInitiateCallFailsOverOnTransportError(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{Link: bridge.Options{WatchdogTimeout: 100 * time.Millisecond}})
	a := bridgetest.NewServer(t, 5060)
	b := bridgetest.NewServer(t, 5062)
	la := mustConnect(t, p, a)
	lb := mustConnect(t, p, b)
	a.Stall(true)

	placed, err := p.InitiateCall(context.Background(), domain.CallParticipant{CallID: "1", ConferenceID: "c"}, "")
	require.NoError(t, err)
	assert.Same(t, lb, placed)
	assert.NotContains(t, p.Links(), la)
}

func TestInitiateCallCommandFailureIsReturned(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{})
	a := bridgetest.NewServer(t, 5060)
	a.Handle(func(req string) bridgetest.Reply {
		if strings.HasPrefix(req, "callId=") {
			return bridgetest.Reply{Status: "FAILURE: bad phone number"}
		}
		return bridgetest.Reply{}
	})
	mustConnect(t, p, a)

	_, err := p.InitiateCall(context.Background(), domain.CallParticipant{CallID: "1"}, "")
	assert.ErrorIs(t, err, bridge.ErrCommandFailed)
	assert.Len(t, p.Links(), 1)
	_, ok := p.LinkFor("1")
	assert.False(t, ok)
}

func TestInitiateCallWithoutBridges(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{})
	_, err := p.InitiateCall(context.Background(), domain.CallParticipant{CallID: "1"}, "")
	assert.ErrorIs(t, err, domain.ErrNoBridges)
}

func TestEndCall(t *testing.T) {
	p, events := newTestPool(t, PoolOptions{})
	calls := record(events.Calls)
	a := bridgetest.NewServer(t, 5060)
	mustConnect(t, p, a)
	ctx := context.Background()

	_, err := p.InitiateCall(ctx, domain.CallParticipant{CallID: "1"}, "")
	require.NoError(t, err)
	require.NoError(t, p.EndCall(ctx, "1"))
	assert.Equal(t, []string{"cancel=1"}, a.RequestsWithPrefix("cancel="))
	assert.ErrorIs(t, p.EndCall(ctx, "1"), domain.ErrUnknownCall)

	evs := calls.all()
	require.Len(t, evs, 2)
	assert.Equal(t, core.CallEnded, evs[1].Kind)
}

func TestCallOperationsUpdateRegistry(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{})
	a := bridgetest.NewServer(t, 5060)
	mustConnect(t, p, a)
	ctx := context.Background()

	_, err := p.InitiateCall(ctx, domain.CallParticipant{CallID: "1", ConferenceID: "A"}, "")
	require.NoError(t, err)
	require.NoError(t, p.MuteCall(ctx, "1", true))
	require.NoError(t, p.TransferCall(ctx, "1", "B"))
	require.NoError(t, p.PlayTreatmentToCall(ctx, "1", "bell.au"))
	require.NoError(t, p.StartRecordingToCall(ctx, "1", "rec.au"))

	cp, ok := p.CallParticipant("1")
	require.True(t, ok)
	assert.True(t, cp.Muted)
	assert.Equal(t, "B", cp.ConferenceID)
	assert.Equal(t, []string{"transferCall=1:B"}, a.RequestsWithPrefix("transferCall="))

	assert.ErrorIs(t, p.MuteCall(ctx, "ghost", true), domain.ErrUnknownCall)
}

func TestStatusEndedUnbindsCall(t *testing.T) {
	p, events := newTestPool(t, PoolOptions{})
	statuses := record(events.Status)
	a := bridgetest.NewServer(t, 5060)
	mustConnect(t, p, a)

	_, err := p.InitiateCall(context.Background(), domain.CallParticipant{CallID: "1", ConferenceID: "c"}, "")
	require.NoError(t, err)
	a.PushStatus(domain.NewCallStatus(domain.StatusEnded, "1", "c", ""))

	assert.Eventually(t, func() bool {
		_, ok := p.LinkFor("1")
		return !ok && len(statuses.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBridgeOfflineRecoversCalls(t *testing.T) {
	p, events := newTestPool(t, PoolOptions{})
	statuses := record(events.Status)
	calls := record(events.Calls)
	a := bridgetest.NewServer(t, 5060)
	b := bridgetest.NewServer(t, 5062)
	la := mustConnect(t, p, a)
	lb := mustConnect(t, p, b)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Reconnector().Run(ctx)

	_, err := p.InitiateCall(ctx, domain.CallParticipant{CallID: "phone", ConferenceID: "c"}, a.Address().String())
	require.NoError(t, err)
	_, err = p.InitiateCall(ctx, domain.CallParticipant{CallID: "music", ConferenceID: "c", InputTreatment: "loop.au"}, a.Address().String())
	require.NoError(t, err)
	require.NoError(t, p.RegisterCall(la, domain.CallParticipant{CallID: "V-x_From_" + lb.Key()}))

	a.DropConnections()

	assert.Eventually(t, func() bool {
		l, ok := p.LinkFor("music")
		return ok && l == lb
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(statuses.all()) == 2 }, 2*time.Second, 10*time.Millisecond)

	got := statuses.all()
	assert.Equal(t, domain.StatusBridgeOffline, got[0].Code)
	assert.Equal(t, "phone", got[0].CallID)
	assert.Equal(t, lb.String(), got[0].CallInfo)
	assert.Equal(t, domain.StatusBridgeOffline, got[1].Code)
	assert.Empty(t, got[1].CallID)

	assert.NotContains(t, p.Links(), la)
	_, ok := p.LinkFor("V-x_From_" + lb.Key())
	assert.False(t, ok)
	assert.Len(t, b.RequestsWithPrefix("callId=music"), 1)

	var ended []string
	for _, ev := range calls.all() {
		if ev.Kind == core.CallEnded {
			ended = append(ended, ev.CallID)
		}
	}
	assert.ElementsMatch(t, []string{"phone", "music", "V-x_From_" + lb.Key()}, ended)
}

func TestBridgeOfflineIsIdempotent(t *testing.T) {
	p, events := newTestPool(t, PoolOptions{})
	bridges := record(events.Bridges)
	la := mustConnect(t, p, bridgetest.NewServer(t, 5060))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.BridgeOffline(context.Background(), la)
		}()
	}
	wg.Wait()

	evs := bridges.all()
	require.Len(t, evs, 2)
	assert.True(t, evs[0].Up)
	assert.False(t, evs[1].Up)
	assert.Empty(t, p.Links())
}

func TestReportFailureTakesBridgeOfflineOnTransportError(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{})
	la := mustConnect(t, p, bridgetest.NewServer(t, 5060))

	assert.False(t, p.ReportFailure(context.Background(), la, errors.New("FAILURE: no such call")))
	assert.Len(t, p.Links(), 1)

	assert.True(t, p.ReportFailure(context.Background(), la, fmt.Errorf("%w: broken pipe", bridge.ErrCommunication)))
	assert.Empty(t, p.Links())
}

func TestBridgeOfflineEndsRelaysOnPeers(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{})
	a := bridgetest.NewServer(t, 5060)
	b := bridgetest.NewServer(t, 5062)
	la := mustConnect(t, p, a)
	lb := mustConnect(t, p, b)

	relay := "V-1_To_" + la.Key()
	require.NoError(t, p.SetupCallOn(context.Background(), lb, domain.CallParticipant{CallID: relay, ConferenceID: "c"}))

	p.BridgeOffline(context.Background(), la)
	assert.Equal(t, []string{"cancel=" + relay}, b.RequestsWithPrefix("cancel="))
	_, ok := p.LinkFor(relay)
	assert.False(t, ok)
}

func TestWaitForBridge(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.WaitForBridge(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan *bridge.Link, 1)
	go func() {
		l, err := p.WaitForBridge(context.Background())
		if err == nil {
			done <- l
		}
	}()
	time.Sleep(20 * time.Millisecond)
	l := mustConnect(t, p, bridgetest.NewServer(t, 5060))

	select {
	case got := <-done:
		assert.Same(t, l, got)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForBridge did not return")
	}
}

func TestBroadcastSpatialSettings(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{})
	a := bridgetest.NewServer(t, 5060)
	b := bridgetest.NewServer(t, 5062)
	mustConnect(t, p, a)
	mustConnect(t, p, b)

	require.NoError(t, p.SetSpatialFalloff(context.Background(), 0.9))
	require.NoError(t, p.SetSpatialBehindVolume(context.Background(), 0.123456789))

	for _, srv := range []*bridgetest.Server{a, b} {
		assert.Equal(t, []string{"spatialFalloff=0.9"}, srv.RequestsWithPrefix("spatialFalloff="))
		assert.Equal(t, []string{"spatialBehindVolume=0.12346"}, srv.RequestsWithPrefix("spatialBehindVolume="))
	}
}

func TestBroadcastReportsFailure(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{})
	a := bridgetest.NewServer(t, 5060)
	a.Handle(func(string) bridgetest.Reply { return bridgetest.Reply{Status: "FAILURE: read only"} })
	mustConnect(t, p, a)

	err := p.SetSpatialAudio(context.Background(), true)
	assert.ErrorIs(t, err, bridge.ErrCommandFailed)
}

func TestListenAnnouncements(t *testing.T) {
	p, _ := newTestPool(t, PoolOptions{})
	srv := bridgetest.NewServer(t, 5060)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	addr, err := p.ListenAnnouncements(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("hello\nBridgeUP:" + srv.Address().String() + "\nBridgeUP:" + srv.Address().String() + "\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(p.Links()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, p.Links(), 1)
}
