package orch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/core/fake"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusLog struct {
	mu   sync.Mutex
	sent []domain.CallStatus
}

func (s *statusLog) BroadcastStatus(st domain.CallStatus) core.PublishResult {
	s.mu.Lock()
	s.sent = append(s.sent, st)
	s.mu.Unlock()
	return core.PublishResult{}
}

func (s *statusLog) all() []domain.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CallStatus(nil), s.sent...)
}

func (s *statusLog) last() domain.CallStatus {
	all := s.all()
	if len(all) == 0 {
		return domain.CallStatus{}
	}
	return all[len(all)-1]
}

type rig struct {
	o      *Orchestrator
	sig    *fake.Signaler
	dev    *fake.Devices
	reg    *app.Registry
	peers  *app.PeerTable
	chat   *app.Chat
	status *statusLog
}

func newRig(t *testing.T, self domain.PeerID, peers ...domain.PeerID) *rig {
	t.Helper()
	bus := app.NewBus()
	r := &rig{
		sig:    fake.NewSignaler(self),
		dev:    fake.NewDevices(),
		reg:    app.NewRegistry(nil, nil),
		peers:  app.NewPeerTable(bus),
		status: &statusLog{},
	}
	r.chat = app.NewChat(self, store.NewMemory(), r.reg, r.peers, bus, nil)
	r.o = New(Deps{
		Self:     self,
		Caller:   r.sig,
		Devices:  r.dev,
		Registry: r.reg,
		Peers:    r.peers,
		Status:   r.status,
		Channels: r.chat,
		Bus:      bus,
		Volume:   0.8,
	})
	for _, p := range peers {
		r.connect(p)
	}
	return r
}

func (r *rig) connect(p domain.PeerID) {
	dc := fake.NewDataChannel(p)
	dc.Open()
	r.reg.Register(p, dc)
}

func lastCall(t *testing.T, r *rig, p domain.PeerID) *fake.Call {
	t.Helper()
	calls := r.sig.CallsTo(p)
	require.NotEmpty(t, calls, "no call to %s", p)
	return calls[len(calls)-1]
}

var ctx = context.Background()

func TestStartCallCallsEveryRegisteredPeer(t *testing.T) {
	r := newRig(t, "user_a", "user_b", "user_c")
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))

	assert.Equal(t, CallState{Phase: PhaseInCall, ChannelID: "voice"}, r.o.State())
	for _, p := range []domain.PeerID{"user_b", "user_c"} {
		c := lastCall(t, r, p)
		assert.Same(t, r.o.CurrentStream(), c.Offered())
		assert.Equal(t, PeerCalling, r.o.PeerPhase(p))
	}
	assert.Equal(t, []domain.CallStatus{{}}, r.status.all())
	assert.Equal(t, PeerIdle, r.o.PeerPhase("user_z"))
}

func TestStartCallRequiresChannel(t *testing.T) {
	r := newRig(t, "user_a")
	assert.ErrorIs(t, r.o.StartCall(ctx, false, ""), ErrChannelRequired)
}

func TestStartCallFallsBackToAudioOnly(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	r.dev.SetVideoErr(core.ErrPermissionDenied)

	require.NoError(t, r.o.StartCall(ctx, true, "voice"))

	reqs := r.dev.Requests()
	require.Len(t, reqs, 2)
	assert.True(t, reqs[0].Video)
	assert.False(t, reqs[1].Video)
	assert.True(t, reqs[1].Audio)

	st := r.o.State()
	assert.Equal(t, PhaseInCall, st.Phase)
	assert.False(t, st.Video)
	assert.Equal(t, domain.CallStatus{Muted: false, CameraOn: false}, r.o.LocalStatus())
	assert.Len(t, r.sig.CallsTo("user_b"), 1)
}

func TestStartCallAbortsWhenNoMicrophone(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	r.dev.AudioErr = core.ErrNoDevices

	err := r.o.StartCall(ctx, true, "voice")
	assert.ErrorIs(t, err, ErrMediaUnavailable)
	assert.ErrorIs(t, err, core.ErrNoDevices)
	assert.Equal(t, PhaseIdle, r.o.State().Phase)
	assert.Empty(t, r.sig.Calls())
}

func TestStartCallHonorsDevicePreferences(t *testing.T) {
	r := newRig(t, "user_a")
	r.o.SetDevicePreferences(core.DevicePreferences{AudioInputID: "mic-9", VideoInputID: "cam-9"})
	require.NoError(t, r.o.StartCall(ctx, true, "voice"))
	reqs := r.dev.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "mic-9", reqs[0].AudioDeviceID)
	assert.Equal(t, "cam-9", reqs[0].VideoDeviceID)
}

func TestStartCallSameChannelIsIdempotent(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	assert.Len(t, r.sig.CallsTo("user_b"), 1)
	assert.Len(t, r.dev.Requests(), 1)

	require.NoError(t, r.o.StartCall(ctx, true, "voice"))
	assert.True(t, r.o.State().Video, "joining again with video turns the camera on")
	assert.Equal(t, 1, r.dev.Live(core.KindVideo))
	assert.Equal(t, 1, r.dev.Live(core.KindAudio))
}

func TestStartCallOnOtherChannelTearsDownFirst(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, true, "voice-1"))
	first := r.o.CurrentStream()
	firstCall := lastCall(t, r, "user_b")

	require.NoError(t, r.o.StartCall(ctx, false, "voice-2"))
	assert.Zero(t, first.LiveTracks())
	assert.True(t, firstCall.Closed())
	assert.Equal(t, "voice-2", r.o.State().ChannelID)
	assert.Len(t, r.sig.CallsTo("user_b"), 2)
	assert.Equal(t, 0, r.dev.Live(core.KindVideo))
	assert.Equal(t, 1, r.dev.Live(core.KindAudio))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, true, "voice"))
	c := lastCall(t, r, "user_b")
	c.EmitStream(fake.Remote("user_b", core.KindAudio))

	r.o.Disconnect()
	once := r.o.Snapshot()
	r.o.Disconnect()
	assert.Equal(t, once, r.o.Snapshot())

	assert.Equal(t, CallState{Phase: PhaseIdle}, r.o.State())
	assert.Nil(t, r.o.CurrentStream())
	assert.True(t, c.Closed())
	assert.Equal(t, PeerClosed, r.o.PeerPhase("user_b"))
	assert.Equal(t, 0, r.dev.Live(core.KindAudio)+r.dev.Live(core.KindVideo))
	assert.Empty(t, r.peers.WithStream())
}

func TestDisconnectReportsCameraOff(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, true, "voice"))
	require.Equal(t, domain.CallStatus{CameraOn: true}, r.status.last())

	r.o.Disconnect()
	assert.Equal(t, domain.CallStatus{}, r.status.last())
	assert.Equal(t, r.o.LocalStatus(), r.status.last())

	n := len(r.status.all())
	r.o.Disconnect()
	assert.Len(t, r.status.all(), n, "nothing changed, nothing sent")
}

func TestDisconnectWhenIdle(t *testing.T) {
	r := newRig(t, "user_a")
	assert.NotPanics(t, func() {
		r.o.Disconnect()
		r.o.Disconnect()
	})
	assert.Equal(t, PhaseIdle, r.o.State().Phase)
}

func TestToggleCameraNeverLeaksTracks(t *testing.T) {
	r := newRig(t, "user_a", "user_b", "user_c")
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	lastCall(t, r, "user_b").EmitStream(fake.Remote("user_b", core.KindAudio))

	for i := 0; i < 6; i++ {
		require.NoError(t, r.o.ToggleCamera(ctx))
		wantVideo := i%2 == 0
		assert.Equal(t, wantVideo, r.o.State().Video)
		assert.Equal(t, 1, r.dev.Live(core.KindAudio))
		if wantVideo {
			assert.Equal(t, 1, r.dev.Live(core.KindVideo))
		} else {
			assert.Equal(t, 0, r.dev.Live(core.KindVideo))
		}
		assert.Equal(t, wantVideo, r.status.last().CameraOn)
	}
	assert.Len(t, r.sig.CallsTo("user_b"), 7, "partners with a stream are renegotiated")
	assert.Len(t, r.sig.CallsTo("user_c"), 1, "peers without a stream are left alone")
}

func TestToggleCameraKeepsOldStreamOnFailure(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	before := r.o.CurrentStream()
	r.dev.SetVideoErr(core.ErrPermissionDenied)

	assert.ErrorIs(t, r.o.ToggleCamera(ctx), ErrMediaUnavailable)
	assert.Same(t, before, r.o.CurrentStream())
	assert.Equal(t, 1, before.LiveTracks())
	assert.False(t, r.o.State().Video)
}

func TestToggleCameraNotInCall(t *testing.T) {
	r := newRig(t, "user_a")
	assert.ErrorIs(t, r.o.ToggleCamera(ctx), ErrNotInCall)
}

func TestMuteDisablesAudioWithoutRenegotiation(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, true, "voice"))
	s := r.o.CurrentStream()

	assert.True(t, r.o.ToggleMute())
	for _, tr := range s.AudioTracks() {
		assert.False(t, tr.Enabled())
		assert.False(t, tr.Stopped())
	}
	for _, tr := range s.VideoTracks() {
		assert.True(t, tr.Enabled())
	}
	assert.Len(t, r.sig.CallsTo("user_b"), 1)
	assert.Equal(t, domain.CallStatus{Muted: true, CameraOn: true}, r.status.last())

	assert.False(t, r.o.ToggleMute())
	assert.True(t, s.AudioTracks()[0].Enabled())
}

func TestMuteCarriesOverCameraToggle(t *testing.T) {
	r := newRig(t, "user_a")
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	r.o.ToggleMute()
	require.NoError(t, r.o.ToggleCamera(ctx))
	assert.False(t, r.o.CurrentStream().AudioTracks()[0].Enabled())
}

func TestDeafenImpliesMute(t *testing.T) {
	r := newRig(t, "user_a")
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	assert.InDelta(t, 0.8, r.o.OutputVolume(), 1e-9)

	assert.True(t, r.o.ToggleDeafen())
	assert.True(t, r.o.LocalStatus().Muted)
	assert.Zero(t, r.o.OutputVolume())

	assert.False(t, r.o.ToggleDeafen())
	assert.True(t, r.o.LocalStatus().Muted, "undeafen does not unmute")
	assert.InDelta(t, 0.8, r.o.OutputVolume(), 1e-9)
}

func TestSetOutputVolume(t *testing.T) {
	r := newRig(t, "user_a")
	assert.ErrorIs(t, r.o.SetOutputVolume(1.5), ErrInvalidVolume)
	assert.ErrorIs(t, r.o.SetOutputVolume(-0.1), ErrInvalidVolume)
	require.NoError(t, r.o.SetOutputVolume(0.25))
	assert.InDelta(t, 0.25, r.o.OutputVolume(), 1e-9)
}

func TestIncomingRenegotiationAutoAnswers(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, true, "voice"))
	out := lastCall(t, r, "user_b")
	out.EmitStream(fake.Remote("user_b", core.KindAudio))
	require.Equal(t, PeerActive, r.o.PeerPhase("user_b"))

	in := fake.NewInboundCall("user_b")
	r.o.HandleIncomingCall(in)

	assert.Same(t, r.o.CurrentStream(), in.Answered())
	_, ringing := r.o.Incoming()
	assert.False(t, ringing)
	assert.Equal(t, PeerRenegotiating, r.o.PeerPhase("user_b"))

	in.EmitStream(fake.Remote("user_b", core.KindAudio, core.KindVideo))
	assert.Equal(t, PeerActive, r.o.PeerPhase("user_b"))
	assert.True(t, out.Closed(), "replaced handle is hung up once the new one is live")

	p, _ := r.peers.Get("user_b")
	assert.True(t, p.Stream.HasVideo())
	assert.Equal(t, PhaseInCall, r.o.State().Phase)
}

func TestCrossedRenegotiationClosesEveryReplacedCall(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	first := lastCall(t, r, "user_b")
	first.EmitStream(fake.Remote("user_b", core.KindAudio))

	require.NoError(t, r.o.ToggleCamera(ctx))
	ours := lastCall(t, r, "user_b")
	require.NotSame(t, first, ours)
	require.Equal(t, PeerRenegotiating, r.o.PeerPhase("user_b"))

	theirs := fake.NewInboundCall("user_b")
	r.o.HandleIncomingCall(theirs)
	theirs.EmitStream(fake.Remote("user_b", core.KindAudio, core.KindVideo))

	assert.Equal(t, PeerActive, r.o.PeerPhase("user_b"))
	assert.True(t, first.Closed())
	assert.True(t, ours.Closed())
	assert.False(t, theirs.Closed())
}

func TestFreshIncomingCallRings(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	in := fake.NewInboundCall("user_b")
	r.o.HandleIncomingCall(in)

	peer, ringing := r.o.Incoming()
	assert.True(t, ringing)
	assert.Equal(t, domain.PeerID("user_b"), peer)
	assert.Nil(t, in.Answered())
	assert.Empty(t, r.dev.Requests())
}

func TestAcceptCallJoinsDM(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	r.peers.SetProfile("user_b", domain.Profile{ID: "user_b", Username: "Bob"})
	in := fake.NewInboundCall("user_b")
	r.o.HandleIncomingCall(in)

	require.NoError(t, r.o.AcceptCall(ctx, true))

	dm := domain.DMChannelID("user_a", "user_b")
	assert.Equal(t, CallState{Phase: PhaseInCall, ChannelID: dm, Video: true, Inbound: true}, r.o.State())
	assert.Same(t, r.o.CurrentStream(), in.Answered())
	assert.Equal(t, dm, r.chat.ActiveChannel())
	chans, err := r.chat.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, "Bob", chans[0].Name)
	assert.Equal(t, domain.CallStatus{CameraOn: true}, r.status.last())
	_, ringing := r.o.Incoming()
	assert.False(t, ringing)

	// last partner hanging up ends the accepted call
	require.NoError(t, in.Close())
	assert.Equal(t, PhaseIdle, r.o.State().Phase)
	assert.Equal(t, 0, r.dev.Live(core.KindAudio)+r.dev.Live(core.KindVideo))
}

func TestAcceptCallFailureHangsUp(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	r.dev.AudioErr = core.ErrPermissionDenied
	in := fake.NewInboundCall("user_b")
	r.o.HandleIncomingCall(in)

	assert.ErrorIs(t, r.o.AcceptCall(ctx, false), ErrMediaUnavailable)
	assert.True(t, in.Closed())
	assert.Equal(t, PhaseIdle, r.o.State().Phase)
}

func TestDeclineCall(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	assert.ErrorIs(t, r.o.DeclineCall(), ErrNoIncomingCall)
	assert.ErrorIs(t, r.o.AcceptCall(ctx, false), ErrNoIncomingCall)

	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	stream := r.o.CurrentStream()
	in := fake.NewInboundCall("user_c")
	r.o.HandleIncomingCall(in)

	require.NoError(t, r.o.DeclineCall())
	assert.True(t, in.Closed())
	assert.Same(t, stream, r.o.CurrentStream())
	assert.Equal(t, 1, stream.LiveTracks())
	assert.Equal(t, PhaseInCall, r.o.State().Phase)
}

func TestRingingCallerHangsUp(t *testing.T) {
	r := newRig(t, "user_a")
	in := fake.NewInboundCall("user_b")
	r.o.HandleIncomingCall(in)
	require.NoError(t, in.Close())
	_, ringing := r.o.Incoming()
	assert.False(t, ringing)
}

func TestScreenShareSwapsOutboundAndReverts(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, true, "voice"))
	cam := r.o.CurrentStream()
	lastCall(t, r, "user_b").EmitStream(fake.Remote("user_b", core.KindAudio))

	require.NoError(t, r.o.ToggleScreenShare(ctx))
	assert.True(t, r.o.State().Screen)

	shared := lastCall(t, r, "user_b").Offered()
	require.Len(t, shared.VideoTracks(), 1)
	require.Len(t, shared.AudioTracks(), 1)
	assert.NotEqual(t, cam.VideoTracks()[0].ID(), shared.VideoTracks()[0].ID())
	assert.NotEqual(t, cam.AudioTracks()[0].ID(), shared.AudioTracks()[0].ID(), "screen audio comes from a separate mic capture")
	assert.False(t, cam.VideoTracks()[0].Stopped(), "camera video is kept for reverting")
	assert.Same(t, shared, r.o.CurrentStream())

	// camera toggles while sharing do not renegotiate
	calls := len(r.sig.CallsTo("user_b"))
	require.NoError(t, r.o.ToggleCamera(ctx))
	assert.Len(t, r.sig.CallsTo("user_b"), calls)
	assert.Same(t, shared, r.o.CurrentStream())
	cam = r.o.camera

	// the user stops sharing from the native control
	shared.VideoTracks()[0].(*fake.Track).End()
	assert.False(t, r.o.State().Screen)
	assert.Same(t, cam, lastCall(t, r, "user_b").Offered())
	assert.True(t, shared.AudioTracks()[0].Stopped(), "separate mic capture is released")
	assert.Equal(t, 1, r.dev.Live(core.KindAudio))
}

func TestScreenShareToggleOff(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	lastCall(t, r, "user_b").EmitStream(fake.Remote("user_b", core.KindAudio))
	cam := r.o.CurrentStream()

	require.NoError(t, r.o.ToggleScreenShare(ctx))
	require.NoError(t, r.o.ToggleScreenShare(ctx))
	assert.False(t, r.o.State().Screen)
	assert.Same(t, cam, lastCall(t, r, "user_b").Offered(), "audio-only partner falls back to the mic stream")
	assert.Equal(t, 0, r.dev.Live(core.KindVideo))
}

func TestScreenShareCancelKeepsState(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, true, "voice"))
	before := r.o.State()
	calls := len(r.sig.Calls())
	r.dev.SetDisplayErr(core.ErrCaptureCancelled)

	err := r.o.ToggleScreenShare(ctx)
	assert.ErrorIs(t, err, core.ErrCaptureCancelled)
	assert.Equal(t, before, r.o.State())
	assert.Len(t, r.sig.Calls(), calls)
}

func TestScreenShareRequiresCall(t *testing.T) {
	r := newRig(t, "user_a")
	err := r.o.ToggleScreenShare(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Zero(t, r.dev.DisplayRequests())
}

func TestConcurrentStartCallIsBusy(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	gate := make(chan struct{})
	r.dev.SetGate(gate)

	done := make(chan error, 1)
	go func() { done <- r.o.StartCall(ctx, false, "voice") }()
	require.Eventually(t, func() bool { return len(r.dev.Requests()) == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, r.o.StartCall(ctx, false, "voice"), ErrBusy)
	assert.Equal(t, PhaseConnecting, r.o.State().Phase)

	close(gate)
	require.NoError(t, <-done)
	assert.Len(t, r.sig.CallsTo("user_b"), 1)
}

func TestDisconnectDuringAcquisitionDiscardsStream(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	gate := make(chan struct{})
	r.dev.SetGate(gate)

	done := make(chan error, 1)
	go func() { done <- r.o.StartCall(ctx, true, "voice") }()
	require.Eventually(t, func() bool { return len(r.dev.Requests()) == 1 }, time.Second, time.Millisecond)

	r.o.Disconnect()
	close(gate)
	assert.ErrorIs(t, <-done, ErrCancelled)
	assert.Equal(t, PhaseIdle, r.o.State().Phase)
	assert.Equal(t, 0, r.dev.Live(core.KindAudio)+r.dev.Live(core.KindVideo))
	assert.Empty(t, r.sig.Calls())
}

func TestPeerJoinsRunningCall(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	r.o.OnPeerConnected("user_c")
	assert.Empty(t, r.sig.Calls(), "no call while idle")

	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	r.connect("user_c")
	r.o.OnPeerConnected("user_c")
	assert.Same(t, r.o.CurrentStream(), lastCall(t, r, "user_c").Offered())
}

func TestPeerRemovedDropsHandleAndStream(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	c := lastCall(t, r, "user_b")
	c.EmitStream(fake.Remote("user_b", core.KindAudio))

	r.reg.Unregister("user_b")
	r.o.OnPeerRemoved("user_b")
	assert.True(t, c.Closed())
	assert.Equal(t, PeerClosed, r.o.PeerPhase("user_b"))
	assert.Empty(t, r.peers.WithStream())
	assert.Equal(t, PhaseInCall, r.o.State().Phase, "an outbound call survives partners leaving")
}

func TestCallErrorIsCleanedUpLikeClose(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	c := lastCall(t, r, "user_b")
	c.EmitStream(fake.Remote("user_b", core.KindAudio))

	c.Fail(assert.AnError)
	assert.True(t, c.Closed())
	assert.Equal(t, PeerClosed, r.o.PeerPhase("user_b"))
	assert.Empty(t, r.peers.WithStream())
}

func TestCallGlareLowerIDKeepsItsCall(t *testing.T) {
	r := newRig(t, "user_a", "user_b")
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	ours := lastCall(t, r, "user_b")

	theirs := fake.NewInboundCall("user_b")
	r.o.HandleIncomingCall(theirs)
	assert.True(t, theirs.Closed())
	assert.False(t, ours.Closed())
	assert.Equal(t, PeerCalling, r.o.PeerPhase("user_b"))
}

func TestCallGlareHigherIDYields(t *testing.T) {
	r := newRig(t, "user_z", "user_b")
	require.NoError(t, r.o.StartCall(ctx, false, "voice"))
	ours := lastCall(t, r, "user_b")

	theirs := fake.NewInboundCall("user_b")
	r.o.HandleIncomingCall(theirs)
	assert.Same(t, r.o.CurrentStream(), theirs.Answered())
	assert.True(t, ours.Closed())
	assert.Equal(t, PeerRenegotiating, r.o.PeerPhase("user_b"))
}
