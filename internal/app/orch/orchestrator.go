package orch

import (
	"context"
	"sync"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Caller places outbound media calls.
type Caller interface {
	Call(ctx context.Context, peer domain.PeerID, stream *core.Stream) (core.MediaCall, error)
}

// Channels is the slice of the chat relay the orchestrator needs.
type Channels interface {
	EnsureDM(ctx context.Context, peer domain.PeerID, name string) (domain.Channel, error)
	SetActiveChannel(id string)
}

type StatusBroadcaster interface {
	BroadcastStatus(domain.CallStatus) core.PublishResult
}

type Deps struct {
	Self     domain.PeerID
	Caller   Caller
	Devices  core.MediaDevices
	Registry *app.Registry
	Peers    *app.PeerTable
	Status   StatusBroadcaster
	Channels Channels
	Bus      *app.Bus
	Metrics  *metrics.Collector
	Volume   float64
}

type callHandle struct {
	call     core.MediaCall
	phase    PeerPhase
	outbound bool
	// prev is the call this one replaces; it is closed once this one is live.
	prev core.MediaCall
}

// Orchestrator owns local media and every per-peer call handle.
// State changes happen under mu; handle and track side effects run after
// it is released.
type Orchestrator struct {
	self     domain.PeerID
	caller   Caller
	devices  core.MediaDevices
	reg      *app.Registry
	peers    *app.PeerTable
	status   StatusBroadcaster
	channels Channels
	bus      *app.Bus
	m        *metrics.Collector

	mu       sync.Mutex
	state    CallState
	muted    bool
	deafened bool
	volume   float64
	prefs    core.DevicePreferences

	camera    *core.Stream // camera+mic, or mic only
	screen    *core.Stream // screen video + screenMic audio
	screenSrc *core.Stream
	screenMic *core.Stream

	calls    map[domain.PeerID]*callHandle
	ended    map[domain.PeerID]bool
	incoming core.MediaCall

	epoch uint64
	busy  bool
}

func New(d Deps) *Orchestrator {
	vol := d.Volume
	if vol <= 0 || vol > 1 {
		vol = 1
	}
	return &Orchestrator{
		self:     d.Self,
		caller:   d.Caller,
		devices:  d.Devices,
		reg:      d.Registry,
		peers:    d.Peers,
		status:   d.Status,
		channels: d.Channels,
		bus:      d.Bus,
		m:        d.Metrics,
		state:    CallState{Phase: PhaseIdle},
		volume:   vol,
		calls:    make(map[domain.PeerID]*callHandle),
		ended:    make(map[domain.PeerID]bool),
	}
}

// effects are collected under the lock and run after it.
type effects struct {
	stop   []*core.Stream
	close  []core.MediaCall
	status *domain.CallStatus
	stream *core.Stream
	calls  []domain.PeerID
}

func (o *Orchestrator) run(ctx context.Context, fx effects) {
	for _, s := range fx.stop {
		s.Stop()
	}
	for _, c := range fx.close {
		if c != nil {
			_ = c.Close()
		}
	}
	if fx.status != nil && o.status != nil {
		o.status.BroadcastStatus(*fx.status)
	}
	for _, p := range fx.calls {
		o.callPeer(ctx, p, fx.stream)
	}
	o.publishState()
}

func (o *Orchestrator) outboundLocked() *core.Stream {
	if o.state.Screen && o.screen != nil {
		return o.screen
	}
	return o.camera
}

func (o *Orchestrator) localStatusLocked() domain.CallStatus {
	return domain.CallStatus{Muted: o.muted, CameraOn: o.state.Video}
}

// applyMuteLocked gates every local audio track. Tracks stay alive.
func (o *Orchestrator) applyMuteLocked() {
	for _, s := range []*core.Stream{o.camera, o.screenMic} {
		for _, t := range s.AudioTracks() {
			t.SetEnabled(!o.muted)
		}
	}
}

func (o *Orchestrator) setStateLocked(e event) error {
	next, err := transition(o.state, e)
	if err != nil {
		return err
	}
	o.state = next
	return nil
}

// teardownLocked releases all local media and call handles.
func (o *Orchestrator) teardownLocked(fx *effects) {
	fx.stop = append(fx.stop, o.camera, o.screenSrc, o.screenMic)
	o.camera, o.screen, o.screenSrc, o.screenMic = nil, nil, nil, nil
	for p, h := range o.calls {
		fx.close = append(fx.close, h.call, h.prev)
		o.ended[p] = true
	}
	clear(o.calls)
	o.m.SetActiveCalls(0)
	o.peers.ClearCallState()
	cameraWasOn := o.state.Video
	_ = o.setStateLocked(event{kind: evReset})
	o.epoch++
	if cameraWasOn {
		st := o.localStatusLocked()
		fx.status = &st
	}
}

// Disconnect stops local tracks, closes every call and resets to Idle.
// Safe in any state and safe to repeat.
func (o *Orchestrator) Disconnect() {
	var fx effects
	o.mu.Lock()
	o.teardownLocked(&fx)
	o.mu.Unlock()
	o.run(context.Background(), fx)
	log.Info().Str("module", "orch").Msg("disconnected from call")
}

func (o *Orchestrator) ToggleMute() bool {
	o.mu.Lock()
	o.muted = !o.muted
	o.applyMuteLocked()
	st, muted := o.localStatusLocked(), o.muted
	o.mu.Unlock()
	o.run(context.Background(), effects{status: &st})
	return muted
}

// ToggleDeafen silences playback. Deafening also mutes; undeafening does not unmute.
func (o *Orchestrator) ToggleDeafen() bool {
	o.mu.Lock()
	o.deafened = !o.deafened
	if o.deafened {
		o.muted = true
	}
	o.applyMuteLocked()
	st, deaf := o.localStatusLocked(), o.deafened
	o.mu.Unlock()
	o.run(context.Background(), effects{status: &st})
	return deaf
}

func (o *Orchestrator) SetOutputVolume(v float64) error {
	if v < 0 || v > 1 {
		return ErrInvalidVolume
	}
	o.mu.Lock()
	o.volume = v
	o.mu.Unlock()
	o.publishState()
	return nil
}

// OutputVolume is the playback volume to apply to remote audio.
func (o *Orchestrator) OutputVolume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deafened {
		return 0
	}
	return o.volume
}

func (o *Orchestrator) SetDevicePreferences(p core.DevicePreferences) {
	o.mu.Lock()
	o.prefs = p
	o.mu.Unlock()
}

func (o *Orchestrator) DevicePreferences() core.DevicePreferences {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prefs
}

// CurrentStream is the stream handed to new and renegotiated calls.
func (o *Orchestrator) CurrentStream() *core.Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outboundLocked()
}

func (o *Orchestrator) LocalStatus() domain.CallStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.localStatusLocked()
}

func (o *Orchestrator) State() CallState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) PeerPhase(peer domain.PeerID) PeerPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.calls[peer]; ok {
		return h.phase
	}
	if o.ended[peer] {
		return PeerClosed
	}
	return PeerIdle
}

// Incoming reports the caller of a ringing call, if any.
func (o *Orchestrator) Incoming() (domain.PeerID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.incoming == nil {
		return "", false
	}
	return o.incoming.Peer(), true
}

type Snapshot struct {
	State    CallState                   `json:"state"`
	Muted    bool                        `json:"muted"`
	Deafened bool                        `json:"deafened"`
	Volume   float64                     `json:"volume"`
	Peers    map[domain.PeerID]PeerPhase `json:"peers"`
	Incoming domain.PeerID               `json:"incoming,omitempty"`
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{
		State:    o.state,
		Muted:    o.muted,
		Deafened: o.deafened,
		Volume:   o.volume,
		Peers:    make(map[domain.PeerID]PeerPhase, len(o.calls)),
	}
	if o.deafened {
		s.Volume = 0
	}
	for p, h := range o.calls {
		s.Peers[p] = h.phase
	}
	if o.incoming != nil {
		s.Incoming = o.incoming.Peer()
	}
	return s
}

func (o *Orchestrator) publishState() {
	o.bus.Publish(app.Event{Type: app.EventCallState, Data: o.Snapshot()})
}

// OnPeerConnected joins a newly connected peer into the running call.
func (o *Orchestrator) OnPeerConnected(peer domain.PeerID) {
	o.mu.Lock()
	if o.state.Phase != PhaseInCall {
		o.mu.Unlock()
		return
	}
	stream := o.outboundLocked()
	o.mu.Unlock()
	o.callPeer(context.Background(), peer, stream)
}

// OnPeerRemoved closes the call of a peer whose data channel went away.
func (o *Orchestrator) OnPeerRemoved(peer domain.PeerID) {
	o.mu.Lock()
	h := o.calls[peer]
	o.mu.Unlock()
	if h != nil {
		o.dropHandle(peer, h)
		_ = h.call.Close()
	}
	o.peers.ClearStream(peer)
}
