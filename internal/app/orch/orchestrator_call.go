package orch

import (
	"context"
	"fmt"
	"slices"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) handlePeersLocked() []domain.PeerID {
	out := make([]domain.PeerID, 0, len(o.calls))
	for p := range o.calls {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// callPeer places a call carrying stream and makes it peer's handle.
// A result that no longer matches the outbound stream is hung up.
func (o *Orchestrator) callPeer(ctx context.Context, peer domain.PeerID, stream *core.Stream) {
	if stream == nil {
		return
	}
	call, err := o.caller.Call(ctx, peer, stream)
	if err != nil {
		log.Error().Str("module", "orch").Str("peer", string(peer)).Err(err).Msg("call failed")
		return
	}

	o.mu.Lock()
	if o.state.Phase != PhaseInCall || o.outboundLocked() != stream {
		o.mu.Unlock()
		_ = call.Close()
		return
	}
	h := &callHandle{call: call, phase: PeerCalling, outbound: true}
	if old, ok := o.calls[peer]; ok {
		h.phase = PeerRenegotiating
		h.prev = old.call
		if old.prev != nil {
			defer func() { _ = old.prev.Close() }()
		}
	}
	o.calls[peer] = h
	delete(o.ended, peer)
	o.m.SetActiveCalls(len(o.calls))
	o.mu.Unlock()

	o.bind(peer, h)
	log.Debug().Str("module", "orch").Str("peer", string(peer)).Str("phase", string(h.phase)).Msg("calling peer")
}

func (o *Orchestrator) bind(peer domain.PeerID, h *callHandle) {
	h.call.OnStream(func(rs *core.RemoteStream) { o.onStream(peer, h, rs) })
	h.call.OnClose(func() { o.dropHandle(peer, h) })
	h.call.OnError(func(err error) {
		log.Error().Str("module", "orch").Str("peer", string(peer)).Err(err).Msg("call error")
		o.dropHandle(peer, h)
		_ = h.call.Close()
	})
}

func (o *Orchestrator) onStream(peer domain.PeerID, h *callHandle, rs *core.RemoteStream) {
	o.mu.Lock()
	if o.calls[peer] != h {
		o.mu.Unlock()
		return
	}
	h.phase = PeerActive
	prev := h.prev
	h.prev = nil
	o.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	o.peers.SetStream(peer, rs)
	o.publishState()
}

// dropHandle forgets h if it is still peer's handle. A call joined by
// accepting a ring ends when its last handle goes.
func (o *Orchestrator) dropHandle(peer domain.PeerID, h *callHandle) {
	var fx effects
	o.mu.Lock()
	if o.calls[peer] != h {
		o.mu.Unlock()
		return
	}
	delete(o.calls, peer)
	o.ended[peer] = true
	o.m.SetActiveCalls(len(o.calls))
	fx.close = append(fx.close, h.prev)
	h.prev = nil
	ending := o.state.Phase == PhaseInCall && o.state.Inbound && len(o.calls) == 0
	if ending {
		o.teardownLocked(&fx)
	}
	o.mu.Unlock()

	o.peers.ClearStream(peer)
	if ending {
		log.Info().Str("module", "orch").Str("peer", string(peer)).Msg("last partner left, ending call")
	}
	o.run(context.Background(), fx)
}

// HandleIncomingCall auto-answers a renegotiation from a peer we already
// have an open call with. Anything else rings.
func (o *Orchestrator) HandleIncomingCall(call core.MediaCall) {
	peer := call.Peer()
	o.mu.Lock()
	h, ok := o.calls[peer]
	if ok && o.state.Phase == PhaseInCall && h.call.IsOpen() {
		if h.outbound && h.phase == PeerCalling && o.self < peer {
			// both sides dialed at once; the lower id keeps its own call
			o.mu.Unlock()
			log.Debug().Str("module", "orch").Str("peer", string(peer)).Msg("call glare, keeping ours")
			_ = call.Close()
			return
		}
		nh := &callHandle{call: call, phase: PeerRenegotiating, prev: h.call}
		if h.outbound && h.phase == PeerCalling {
			nh.prev = nil
			defer func() { _ = h.call.Close() }()
		}
		if stale := h.prev; stale != nil {
			h.prev = nil
			defer func() { _ = stale.Close() }()
		}
		o.calls[peer] = nh
		stream := o.outboundLocked()
		o.mu.Unlock()

		o.bind(peer, nh)
		if err := call.Answer(context.Background(), stream); err != nil {
			log.Error().Str("module", "orch").Str("peer", string(peer)).Err(err).Msg("renegotiation answer failed")
			o.dropHandle(peer, nh)
			_ = call.Close()
			return
		}
		log.Info().Str("module", "orch").Str("peer", string(peer)).Msg("auto-answered renegotiation")
		return
	}
	old := o.incoming
	o.incoming = call
	o.mu.Unlock()

	call.OnClose(func() {
		o.mu.Lock()
		if o.incoming == call {
			o.incoming = nil
		}
		o.mu.Unlock()
	})
	if old != nil && old != call {
		_ = old.Close()
	}
	log.Info().Str("module", "orch").Str("peer", string(peer)).Msg("incoming call ringing")
	o.bus.Publish(app.Event{Type: app.EventIncomingCall, Peer: peer, Data: o.peers.DisplayName(peer)})
	o.publishState()
}

// AcceptCall answers the ringing call and switches to the caller's DM channel.
func (o *Orchestrator) AcceptCall(ctx context.Context, withVideo bool) error {
	var fx effects
	o.mu.Lock()
	call := o.incoming
	if call == nil {
		o.mu.Unlock()
		return ErrNoIncomingCall
	}
	if o.busy {
		o.mu.Unlock()
		return ErrBusy
	}
	peer := call.Peer()
	dmID := domain.DMChannelID(o.self, peer)
	if o.state.Phase == PhaseInCall {
		o.teardownLocked(&fx)
	}
	o.incoming = nil
	if err := o.setStateLocked(event{kind: evAcquire, channel: dmID, inbound: true}); err != nil {
		o.incoming = call
		o.mu.Unlock()
		return err
	}
	o.busy = true
	epoch, prefs := o.epoch, o.prefs
	o.mu.Unlock()
	o.run(ctx, fx)

	stream, video, err := o.acquire(ctx, withVideo, prefs)

	o.mu.Lock()
	o.busy = false
	if o.epoch != epoch {
		o.mu.Unlock()
		stream.Stop()
		_ = call.Close()
		return ErrCancelled
	}
	if err != nil {
		_ = o.setStateLocked(event{kind: evAbort})
		o.mu.Unlock()
		_ = call.Close()
		o.publishState()
		return fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
	}
	o.joinLocked(stream, video, dmID)
	h := &callHandle{call: call, phase: PeerActive}
	o.calls[peer] = h
	delete(o.ended, peer)
	o.m.SetActiveCalls(len(o.calls))
	st := o.localStatusLocked()
	o.mu.Unlock()

	if o.channels != nil {
		if _, err := o.channels.EnsureDM(ctx, peer, o.peers.DisplayName(peer)); err != nil {
			log.Error().Str("module", "orch").Str("peer", string(peer)).Err(err).Msg("ensure dm channel")
		}
		o.channels.SetActiveChannel(dmID)
	}

	o.bind(peer, h)
	if err := call.Answer(context.WithoutCancel(ctx), stream); err != nil {
		log.Error().Str("module", "orch").Str("peer", string(peer)).Err(err).Msg("answer failed")
		o.dropHandle(peer, h)
		_ = call.Close()
		return fmt.Errorf("answer call: %w", err)
	}
	log.Info().Str("module", "orch").Str("peer", string(peer)).Bool("video", video).Msg("call accepted")
	o.run(context.WithoutCancel(ctx), effects{status: &st})
	return nil
}

// DeclineCall hangs up the ringing call. Local media is untouched.
func (o *Orchestrator) DeclineCall() error {
	o.mu.Lock()
	call := o.incoming
	o.incoming = nil
	o.mu.Unlock()
	if call == nil {
		return ErrNoIncomingCall
	}
	_ = call.Close()
	o.publishState()
	log.Info().Str("module", "orch").Str("peer", string(call.Peer())).Msg("call declined")
	return nil
}
