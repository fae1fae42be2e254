package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicebridge/internal/adapters/bridge/bridgetest"
	"github.com/dkeye/voicebridge/internal/domain"
)

func connectLink(t *testing.T, srv *bridgetest.Server, opts Options) *Link {
	t.Helper()
	l := New(srv.Address(), opts)
	require.NoError(t, l.Connect(context.Background()))
	t.Cleanup(l.Disconnect)
	return l
}

func TestConnectReadsBanner(t *testing.T) {
	srv := bridgetest.NewServer(t, 5070)
	l := connectLink(t, srv, Options{})

	assert.True(t, l.Connected())
	assert.True(t, l.Healthy())
	assert.Equal(t, StateConnected, l.State())
	assert.Equal(t, "127.0.0.1:5070", l.PublicAddress())
	assert.Equal(t, "127.0.0.1_5070", l.Key())
}

func TestConnectRefused(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	addr := srv.Address()
	srv.Close()

	l := New(addr, Options{DialTimeout: time.Second})
	err := l.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCommunication)
	assert.False(t, l.Connected())
}

func TestSendWithResponse(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	srv.Handle(func(req string) bridgetest.Reply {
		switch req {
		case "gs":
			return bridgetest.Reply{Contents: []string{"calls=2", "load=0.1"}}
		case "ci":
			return bridgetest.Reply{Contents: []string{"7 Lobby"}}
		case "gcs=7":
			return bridgetest.Reply{Contents: []string{"ESTABLISHED"}}
		case "tp":
			return bridgetest.Reply{Contents: []string{"7 welcome.au"}}
		case "cancel=bad":
			return bridgetest.Reply{Status: "FAILURE: no such call"}
		}
		return bridgetest.Reply{}
	})
	l := connectLink(t, srv, Options{})

	lines, err := l.GetBridgeStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"calls=2", "load=0.1"}, lines)

	lines, err = l.GetCallInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"7 Lobby"}, lines)

	lines, err = l.GetCallStatus(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, []string{"ESTABLISHED"}, lines)

	lines, err = l.GetTreatmentsPlaying(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"7 welcome.au"}, lines)

	resp, err := l.SendWithResponse(context.Background(), "cancel=bad")
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.False(t, IsCommunication(err))
	assert.Equal(t, "no such call", ce.Response.Message)
	assert.Equal(t, StatusFailure, resp.Status)
}

func TestSendWithResponseNotConnected(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	l := New(srv.Address(), Options{})

	_, err := l.SendWithResponse(context.Background(), "gs")
	assert.ErrorIs(t, err, ErrCommunication)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWatchdogDisconnectsAndFiresOfflineOnce(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	srv.Stall(true)

	l := connectLink(t, srv, Options{WatchdogTimeout: 100 * time.Millisecond})
	var offline atomic.Int32
	l.OnOffline(func(*Link) { offline.Add(1) })

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = l.SendWithResponse(context.Background(), "gs")
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrCommunication)
	}
	assert.Eventually(t, func() bool { return offline.Load() == 1 && !l.Connected() }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), offline.Load())
}

func TestStatusStreamDeliversAndTracksEnded(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	l := connectLink(t, srv, Options{})

	var mu sync.Mutex
	var got []domain.CallStatus
	l.OnStatus(func(_ *Link, st domain.CallStatus) {
		mu.Lock()
		got = append(got, st)
		mu.Unlock()
	})

	cp := domain.CallParticipant{CallID: "7", ConferenceID: "Lobby", PhoneNumber: "sip:7@example.com"}
	require.NoError(t, l.SetupCall(context.Background(), cp))
	assert.True(t, l.HasCall("7"))

	srv.PushStatus(domain.NewCallStatus(domain.StatusEstablished, "7", "Lobby", ""))
	srv.PushStatus(domain.NewCallStatus(domain.StatusEnded, "7", "Lobby", ""))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.StatusEstablished, got[0].Code)
	assert.False(t, l.HasCall("7"))
}

func TestStatusStreamEOFFiresOffline(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	l := connectLink(t, srv, Options{})
	offline := make(chan *Link, 2)
	l.OnOffline(func(x *Link) { offline <- x })

	srv.DropConnections()

	select {
	case got := <-offline:
		assert.Same(t, l, got)
	case <-time.After(2 * time.Second):
		t.Fatal("offline callback not fired")
	}
	assert.Eventually(t, func() bool { return !l.Connected() }, time.Second, 10*time.Millisecond)
}

func TestSendCommandBatchesLines(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	l := connectLink(t, srv, Options{})

	m := domain.Mix{Volume: 0.5}
	require.NoError(t, l.SendCommand(m.Command("a", "b"), m.Command("c", "d")))

	assert.Eventually(t, func() bool { return len(srv.DataLines()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"pmx=0:0:0:0.5:a:b", "pmx=0:0:0:0.5:c:d"}, srv.DataLines())
}

func TestMonitorConference(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	l := connectLink(t, srv, Options{})

	require.NoError(t, l.MonitorConference(context.Background(), "Lobby:PCM/16000/2"))
	require.NoError(t, l.MonitorConference(context.Background(), "Lobby:PCM/16000/2"))

	assert.Equal(t, []string{
		"cc=Lobby:PCM/16000/2",
		"wgo=Lobby:PCM/16000/2:Lobby:PCM/16000/2:noCommonMix=true",
		"mcc=true:Lobby",
	}, srv.Requests())
	assert.Equal(t, []string{"Lobby:PCM/16000/2"}, l.Conferences())
}

func TestSetupCallDuplicate(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	srv.Handle(func(req string) bridgetest.Reply {
		if strings.HasPrefix(req, "callId=") {
			return bridgetest.Reply{Status: "FAILURE: CallId 9 is already in use"}
		}
		return bridgetest.Reply{}
	})
	l := connectLink(t, srv, Options{})

	err := l.SetupCall(context.Background(), domain.CallParticipant{CallID: "9", ConferenceID: "c"})
	assert.ErrorIs(t, err, domain.ErrDuplicateCall)
	assert.False(t, IsCommunication(err))
	assert.False(t, l.HasCall("9"))
}

func TestEndCallSkipsUnknownCalls(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	l := connectLink(t, srv, Options{})
	ctx := context.Background()

	require.NoError(t, l.EndCall(ctx, "nobody"))
	assert.Empty(t, srv.Requests())

	require.NoError(t, l.EndCall(ctx, "0"))
	l.AddCall(domain.CallParticipant{CallID: "5"})
	require.NoError(t, l.EndCall(ctx, "5"))
	assert.Equal(t, []string{"cancel=0", "cancel=5"}, srv.Requests())
	assert.False(t, l.HasCall("5"))
}

func TestTypedCommands(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	l := connectLink(t, srv, Options{})
	ctx := context.Background()

	steps := []func() error{
		func() error { return l.MuteCall(ctx, "1", true) },
		func() error { return l.StartInputTreatment(ctx, "1", "music.au") },
		func() error { return l.PauseInputTreatment(ctx, "1", false) },
		func() error { return l.ResumeInputTreatment(ctx, "1") },
		func() error { return l.StopInputTreatment(ctx, "1") },
		func() error { return l.RestartInputTreatment(ctx, "1") },
		func() error { return l.PlayTreatmentToCall(ctx, "1", "bell.au") },
		func() error { return l.PauseTreatmentToCall(ctx, "1", "bell.au") },
		func() error { return l.StopTreatmentToCall(ctx, "1", "bell.au") },
		func() error { return l.SetSpatialAudio(ctx, true) },
		func() error { return l.SetSpatialMinVolume(ctx, 0.2) },
		func() error { return l.SetSpatialFalloff(ctx, 0.95) },
		func() error { return l.SetSpatialEchoDelay(ctx, 0.1234567) },
		func() error { return l.SetSpatialEchoVolume(ctx, 0.5) },
		func() error { return l.SetSpatialBehindVolume(ctx, 0.333333333) },
		func() error { return l.ForwardData(ctx, "2", "1") },
		func() error { return l.StartRecordingToCall(ctx, "1", "/tmp/rec.au") },
		func() error { return l.StopRecordingToCall(ctx, "1") },
		func() error { return l.Suspend(ctx) },
		func() error { return l.Resume(ctx) },
	}
	for _, step := range steps {
		require.NoError(t, step())
	}

	assert.Equal(t, []string{
		"mute=true:1",
		"startInputTreatment=music.au:1",
		"pauseInputTreatment=false:1",
		"resumeTreatmentToCall=1",
		"stopInputTreatment=1",
		"restartInputTreatment=1",
		"playTreatmentToCall=bell.au:1",
		"pauseTreatmentToCall=1:bell.au",
		"stopTreatmentToCall=1:bell.au",
		"spatialAudio=true",
		"smv=0.2",
		"spatialFalloff=0.95",
		"spatialEchoDelay=0.12346",
		"spatialEchoVolume=0.5",
		"spatialBehindVolume=0.33333",
		"forwardData=2:1",
		"recordToMember=t:1:/tmp/rec.au:au",
		"recordToMember=f:1",
		"suspend",
		"resume",
	}, srv.Requests())
}

func TestMigrateAndTransfer(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	l := connectLink(t, srv, Options{})
	ctx := context.Background()

	cp := domain.CallParticipant{CallID: "3", ConferenceID: "A", PhoneNumber: "100"}
	require.NoError(t, l.MigrateCall(ctx, cp, false))
	require.NoError(t, l.MigrateCall(ctx, cp, true))
	require.NoError(t, l.TransferCall(ctx, "3", "B"))

	reqs := srv.Requests()
	require.Len(t, reqs, 6)
	assert.Contains(t, reqs[0], "migrate=true")
	assert.Equal(t, "cancelMigration=3", reqs[1])
	assert.Equal(t, "cc=B", reqs[2])
	assert.Equal(t, "transferCall=3:B", reqs[5])

	got, ok := l.CallParticipant("3")
	require.True(t, ok)
	assert.Equal(t, "B", got.ConferenceID)
}

func TestLivenessDegradesAndRecovers(t *testing.T) {
	srv := bridgetest.NewServer(t, 5060)
	l := connectLink(t, srv, Options{PingTimeout: 80 * time.Millisecond})

	assert.Eventually(t, func() bool { return l.State() == StateDegraded }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, l.Connected())
	assert.False(t, l.Healthy())

	l.GotPing()
	assert.Equal(t, StateConnected, l.State())
}

func TestBridgeOfflineEndsRelayLegs(t *testing.T) {
	a := bridgetest.NewServer(t, 5060)
	b := bridgetest.NewServer(t, 5062)
	la := connectLink(t, a, Options{})
	lb := New(b.Address(), Options{})

	la.AddCall(domain.CallParticipant{CallID: "V-1_To_" + lb.Key()})
	la.AddCall(domain.CallParticipant{CallID: "1"})

	la.BridgeOffline(context.Background(), lb)
	assert.Equal(t, []string{"cancel=V-1_To_127.0.0.1_5062"}, a.Requests())
	assert.True(t, la.HasCall("1"))
}

func TestCommandErrorMessage(t *testing.T) {
	err := error(&CommandError{Command: "cancel", Response: Response{Status: StatusFailure, Message: "nope"}})
	assert.Equal(t, "cancel: nope (FAILURE)", err.Error())
	assert.True(t, errors.Is(err, ErrCommandFailed))
}
