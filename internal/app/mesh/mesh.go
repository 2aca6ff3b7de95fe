// Package mesh wires the signaling session to the connection registry,
// the handshake protocol, the chat relay and the call orchestrator.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrSelfConnect = errors.New("cannot connect to self")

type Deps struct {
	Signaler core.Signaler
	Devices  core.MediaDevices
	Store    core.MessageStore
	Profile  domain.Profile
	Policy   app.Policy
	Metrics  *metrics.Collector
	Volume   float64
}

// Mesh is one local participant of the peer mesh.
type Mesh struct {
	self domain.PeerID
	sig  core.Signaler
	m    *metrics.Collector

	Bus        *app.Bus
	Registry   *app.Registry
	Peers      *app.PeerTable
	Handshaker *app.Handshaker
	Chat       *app.Chat
	Orch       *orch.Orchestrator

	mu      sync.RWMutex
	profile domain.Profile

	startOnce sync.Once
	closeOnce sync.Once
}

func New(d Deps) *Mesh {
	self := d.Signaler.ID()
	bus := app.NewBus()
	reg := app.NewRegistry(d.Policy, d.Metrics)
	peers := app.NewPeerTable(bus)
	hs := app.NewHandshaker(reg, peers, d.Metrics)
	chat := app.NewChat(self, d.Store, reg, peers, bus, d.Metrics)
	prof := d.Profile
	prof.ID = self

	return &Mesh{
		self:       self,
		sig:        d.Signaler,
		m:          d.Metrics,
		Bus:        bus,
		Registry:   reg,
		Peers:      peers,
		Handshaker: hs,
		Chat:       chat,
		Orch: orch.New(orch.Deps{
			Self:     self,
			Caller:   d.Signaler,
			Devices:  d.Devices,
			Registry: reg,
			Peers:    peers,
			Status:   hs,
			Channels: chat,
			Bus:      bus,
			Metrics:  d.Metrics,
			Volume:   d.Volume,
		}),
		profile: prof,
	}
}

func (m *Mesh) ID() domain.PeerID { return m.self }

// Start binds signaling events to the components. Safe to call twice.
func (m *Mesh) Start() {
	m.startOnce.Do(func() {
		m.Handshaker.Bind(m.Profile, m.Orch.LocalStatus, m.Chat)
		m.Handshaker.OnOpen(m.Orch.OnPeerConnected)
		m.Registry.OnRemoved(m.Orch.OnPeerRemoved)
		m.Registry.OnConnectivity(func(c app.Connectivity) {
			m.Bus.Publish(app.Event{Type: app.EventConnectivity, Data: c})
		})

		m.sig.OnConnection(func(dc core.DataChannel) {
			log.Info().Str("module", "mesh").Str("peer", string(dc.Peer())).Msg("incoming connection")
			m.Handshaker.Attach(dc)
		})
		m.sig.OnCall(m.Orch.HandleIncomingCall)
		m.sig.OnError(m.onSignalError)
		log.Info().Str("module", "mesh").Str("self", string(m.self)).Msg("mesh started")
	})
}

func (m *Mesh) onSignalError(e core.SignalError) {
	switch e.Kind {
	case core.SignalPeerUnavailable:
		log.Warn().Str("module", "mesh").Str("peer", string(e.Peer)).Msg("peer unavailable")
		m.Registry.ResetIfEmpty()
	default:
		log.Error().Str("module", "mesh").Err(e).Msg("signaling error")
	}
}

// ConnectPeer dials peer unless a channel to it is already registered.
func (m *Mesh) ConnectPeer(ctx context.Context, peer domain.PeerID) error {
	if err := peer.Validate(); err != nil {
		return err
	}
	if peer == m.self {
		return ErrSelfConnect
	}
	if m.Registry.Has(peer) {
		return nil
	}
	m.Registry.SetConnecting()
	dc, err := m.sig.Connect(ctx, peer)
	if err != nil {
		m.Registry.ResetIfEmpty()
		return fmt.Errorf("connect %s: %w", peer, err)
	}
	m.Handshaker.Attach(dc)
	return nil
}

func (m *Mesh) Profile() domain.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// UpdateProfile applies u to the local profile and re-sends the handshake.
func (m *Mesh) UpdateProfile(u domain.ProfileUpdate) (domain.Profile, error) {
	m.mu.Lock()
	next, err := m.profile.Apply(u)
	if err != nil {
		m.mu.Unlock()
		return domain.Profile{}, err
	}
	m.profile = next
	m.mu.Unlock()

	res := m.Handshaker.BroadcastProfile(next)
	log.Info().Str("module", "mesh").Int("sent", res.SendTo).Msg("profile updated")
	return next, nil
}

// Close ends the call, drops every channel and leaves the rendezvous.
func (m *Mesh) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.Orch.Disconnect()
		var open []core.DataChannel
		m.Registry.ForEach(func(_ domain.PeerID, dc core.DataChannel) {
			open = append(open, dc)
		})
		for _, dc := range open {
			_ = dc.Close()
		}
		err = m.sig.Close()
		log.Info().Str("module", "mesh").Msg("mesh closed")
	})
	return err
}
