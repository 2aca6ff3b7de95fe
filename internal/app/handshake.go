package app

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/metrics"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// MessageSink consumes chat messages arriving over data channels.
type MessageSink interface {
	ReceiveMessage(ctx context.Context, msg domain.ChatMessage, from domain.PeerID) error
}

// Handshaker runs the identity/status/message protocol on each data channel.
type Handshaker struct {
	reg   *Registry
	peers *PeerTable
	m     *metrics.Collector

	mu      sync.RWMutex
	profile func() domain.Profile
	status  func() domain.CallStatus
	sink    MessageSink
	onOpen  []func(domain.PeerID)
}

func NewHandshaker(reg *Registry, peers *PeerTable, m *metrics.Collector) *Handshaker {
	return &Handshaker{
		reg:     reg,
		peers:   peers,
		m:       m,
		profile: func() domain.Profile { return domain.Profile{} },
		status:  func() domain.CallStatus { return domain.CallStatus{} },
	}
}

// Bind sets where the local profile, local status and inbound messages come from.
func (h *Handshaker) Bind(profile func() domain.Profile, status func() domain.CallStatus, sink MessageSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if profile != nil {
		h.profile = profile
	}
	if status != nil {
		h.status = status
	}
	h.sink = sink
}

// OnOpen runs after a channel is registered and the greeting was sent.
func (h *Handshaker) OnOpen(fn func(domain.PeerID)) {
	h.mu.Lock()
	h.onOpen = append(h.onOpen, fn)
	h.mu.Unlock()
}

// Attach wires dc. It may be called before or after the channel opens.
func (h *Handshaker) Attach(dc core.DataChannel) {
	peer := dc.Peer()
	var openOnce, goneOnce sync.Once
	open := func() { openOnce.Do(func() { h.opened(dc) }) }
	gone := func() { goneOnce.Do(func() { h.closed(dc) }) }

	dc.OnOpen(open)
	dc.OnData(func(f core.Frame) { h.dispatch(peer, f) })
	dc.OnClose(gone)
	dc.OnError(func(err error) {
		log.Error().Str("module", "app.handshake").Str("peer", string(peer)).Err(err).Msg("data channel error")
		gone()
		_ = dc.Close()
	})
	if dc.IsOpen() {
		open()
	}
}

func (h *Handshaker) opened(dc core.DataChannel) {
	peer := dc.Peer()
	h.reg.Register(peer, dc)

	h.mu.RLock()
	prof, st, hooks := h.profile(), h.status(), slices.Clone(h.onOpen)
	h.mu.RUnlock()

	if f, err := protocol.Handshake(prof); err == nil {
		h.send(dc, f)
	}
	if f, err := protocol.StatusUpdate(st); err == nil {
		h.send(dc, f)
	}
	log.Info().Str("module", "app.handshake").Str("peer", string(peer)).Msg("channel open")
	for _, fn := range hooks {
		fn(peer)
	}
}

func (h *Handshaker) send(dc core.DataChannel, f core.Frame) {
	if err := dc.Send(f); err != nil {
		log.Warn().Str("module", "app.handshake").Str("peer", string(dc.Peer())).Err(err).Msg("greeting not sent")
	}
}

func (h *Handshaker) closed(dc core.DataChannel) {
	peer := dc.Peer()
	if !h.reg.UnregisterChannel(peer, dc) {
		return
	}
	h.peers.Remove(peer)
}

func (h *Handshaker) dispatch(peer domain.PeerID, f core.Frame) {
	env, err := protocol.Decode(f)
	if err != nil {
		h.m.ProtocolError()
		log.Warn().Str("module", "app.handshake").Str("peer", string(peer)).Err(err).Msg("dropping frame")
		return
	}
	switch env.Type {
	case protocol.TypeHandshake:
		h.peers.SetProfile(peer, *env.User)
	case protocol.TypeStatusUpdate:
		h.peers.SetStatus(peer, *env.Status)
	case protocol.TypeMessage:
		h.mu.RLock()
		sink := h.sink
		h.mu.RUnlock()
		if sink == nil {
			return
		}
		if err := sink.ReceiveMessage(context.Background(), *env.Message, peer); err != nil {
			log.Error().Str("module", "app.handshake").Str("peer", string(peer)).Err(err).Msg("store inbound message")
		}
	}
}

// BroadcastProfile re-sends the handshake to every open channel.
func (h *Handshaker) BroadcastProfile(p domain.Profile) core.PublishResult {
	f, err := protocol.Handshake(p)
	if err != nil {
		log.Error().Str("module", "app.handshake").Err(err).Msg("encode handshake")
		return core.PublishResult{}
	}
	return h.reg.Broadcast(f)
}

func (h *Handshaker) BroadcastStatus(st domain.CallStatus) core.PublishResult {
	f, err := protocol.StatusUpdate(st)
	if err != nil {
		log.Error().Str("module", "app.handshake").Err(err).Msg("encode status")
		return core.PublishResult{}
	}
	return h.reg.Broadcast(f)
}
