package app

import (
	"errors"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Connectivity string

const (
	Disconnected Connectivity = "disconnected"
	Connecting   Connectivity = "connecting"
	Connected    Connectivity = "connected"
)

type connEntry struct {
	dc      core.DataChannel
	strikes int
}

// Registry is the single source of truth for which peers are reachable.
type Registry struct {
	mu     sync.RWMutex
	conns  map[domain.PeerID]*connEntry
	state  Connectivity
	policy Policy
	m      *metrics.Collector

	onRemoved []func(domain.PeerID)
	onState   []func(Connectivity)
}

func NewRegistry(policy Policy, m *metrics.Collector) *Registry {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Registry{
		conns:  make(map[domain.PeerID]*connEntry),
		state:  Disconnected,
		policy: policy,
		m:      m,
	}
}

// OnRemoved is called after a peer's entry is gone.
func (r *Registry) OnRemoved(fn func(domain.PeerID)) {
	r.mu.Lock()
	r.onRemoved = append(r.onRemoved, fn)
	r.mu.Unlock()
}

// OnConnectivity is called when the indicator actually changes.
func (r *Registry) OnConnectivity(fn func(Connectivity)) {
	r.mu.Lock()
	r.onState = append(r.onState, fn)
	r.mu.Unlock()
}

// setStateLocked returns listeners to notify, or nil when nothing changed.
func (r *Registry) setStateLocked(s Connectivity) []func(Connectivity) {
	if r.state == s {
		return nil
	}
	r.state = s
	return slices.Clone(r.onState)
}

func notifyState(hs []func(Connectivity), s Connectivity) {
	for _, h := range hs {
		h(s)
	}
}

// Register stores dc for peer. An existing entry is replaced, not closed.
func (r *Registry) Register(peer domain.PeerID, dc core.DataChannel) {
	r.mu.Lock()
	_, replaced := r.conns[peer]
	r.conns[peer] = &connEntry{dc: dc}
	hs := r.setStateLocked(Connected)
	n := len(r.conns)
	r.mu.Unlock()

	r.m.SetPeersConnected(n)
	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Bool("replaced", replaced).Msg("registered connection")
	notifyState(hs, Connected)
}

// Unregister removes peer whatever channel it holds.
func (r *Registry) Unregister(peer domain.PeerID) bool {
	return r.remove(peer, nil)
}

// UnregisterChannel removes peer only while it still maps to dc, so a
// replaced channel closing late cannot evict its successor.
func (r *Registry) UnregisterChannel(peer domain.PeerID, dc core.DataChannel) bool {
	return r.remove(peer, dc)
}

func (r *Registry) remove(peer domain.PeerID, dc core.DataChannel) bool {
	r.mu.Lock()
	e, ok := r.conns[peer]
	if !ok || (dc != nil && e.dc != dc) {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, peer)
	var hs []func(Connectivity)
	if len(r.conns) == 0 {
		hs = r.setStateLocked(Disconnected)
	}
	removed := slices.Clone(r.onRemoved)
	n := len(r.conns)
	r.mu.Unlock()

	r.m.SetPeersConnected(n)
	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("unregistered connection")
	for _, h := range removed {
		h(peer)
	}
	notifyState(hs, Disconnected)
	return true
}

// SetConnecting marks an outbound dial in progress. It only moves out of
// Disconnected; an existing mesh stays Connected.
func (r *Registry) SetConnecting() {
	r.mu.Lock()
	var hs []func(Connectivity)
	if r.state == Disconnected {
		hs = r.setStateLocked(Connecting)
	}
	r.mu.Unlock()
	notifyState(hs, Connecting)
}

// ResetIfEmpty drops a pending Connecting back to Disconnected when no peer is registered.
func (r *Registry) ResetIfEmpty() {
	r.mu.Lock()
	var hs []func(Connectivity)
	if len(r.conns) == 0 {
		hs = r.setStateLocked(Disconnected)
	}
	r.mu.Unlock()
	notifyState(hs, Disconnected)
}

func (r *Registry) Connectivity() Connectivity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Registry) Has(peer domain.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[peer]
	return ok
}

func (r *Registry) Get(peer domain.PeerID) (core.DataChannel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[peer]; ok {
		return e.dc, true
	}
	return nil, false
}

func (r *Registry) IsEmpty() bool { return r.Len() == 0 }

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Peers returns registered ids in sorted order.
func (r *Registry) Peers() []domain.PeerID {
	r.mu.RLock()
	out := make([]domain.PeerID, 0, len(r.conns))
	for p := range r.conns {
		out = append(out, p)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

type regSnap struct {
	Peer domain.PeerID
	DC   core.DataChannel
}

func (r *Registry) snapshot() []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.conns))
	for p, e := range r.conns {
		out = append(out, regSnap{Peer: p, DC: e.dc})
	}
	return out
}

// ForEach visits a snapshot, so fn may register or unregister freely.
func (r *Registry) ForEach(fn func(domain.PeerID, core.DataChannel)) {
	for _, s := range r.snapshot() {
		fn(s.Peer, s.DC)
	}
}

// Broadcast sends f to every open channel. Delivery is best effort.
func (r *Registry) Broadcast(f core.Frame) core.PublishResult {
	var res core.PublishResult
	var kick []regSnap
	for _, s := range r.snapshot() {
		if !s.DC.IsOpen() {
			continue
		}
		err := s.DC.Send(f)
		if err == nil {
			res.SendTo++
			r.resetStrikes(s.Peer, s.DC)
			continue
		}
		res.Dropped = append(res.Dropped, s.Peer)
		if !errors.Is(err, core.ErrBackpressure) {
			log.Warn().Str("module", "app.registry").Str("peer", string(s.Peer)).Err(err).Msg("send failed")
			continue
		}
		if r.policy.OnBackpressure(s.Peer, r.strike(s.Peer, s.DC)) == KickPeer {
			kick = append(kick, s)
		}
	}
	for _, s := range kick {
		log.Warn().Str("module", "app.registry").Str("peer", string(s.Peer)).Msg("closing slow peer")
		_ = s.DC.Close()
	}
	return res
}

func (r *Registry) strike(peer domain.PeerID, dc core.DataChannel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[peer]
	if !ok || e.dc != dc {
		return 0
	}
	e.strikes++
	return e.strikes
}

func (r *Registry) resetStrikes(peer domain.PeerID, dc core.DataChannel) {
	r.mu.Lock()
	if e, ok := r.conns[peer]; ok && e.dc == dc {
		e.strikes = 0
	}
	r.mu.Unlock()
}
