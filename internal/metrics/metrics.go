// Package metrics exposes prometheus collectors for both binaries.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	peersConnected    prometheus.Gauge
	activeCalls       prometheus.Gauge
	messagesSent      prometheus.Counter
	messagesReceived  prometheus.Counter
	protocolErrors    prometheus.Counter
	mediaFailures     *prometheus.CounterVec
	signalsRelayed    *prometheus.CounterVec
	peerUnavailable   prometheus.Counter
	rendezvousClients prometheus.Gauge
}

// New registers collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		peersConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_peers_connected",
			Help: "Number of peers with an open data channel",
		}),
		activeCalls: f.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_call_handles_active",
			Help: "Number of live per-peer call handles",
		}),
		messagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "mesh_chat_messages_sent_total",
			Help: "Chat messages sent by the local user",
		}),
		messagesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "mesh_chat_messages_received_total",
			Help: "Chat messages accepted from peers after de-duplication",
		}),
		protocolErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "mesh_protocol_errors_total",
			Help: "Malformed data-channel frames dropped",
		}),
		mediaFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_media_acquire_failures_total",
			Help: "Failed local media acquisitions",
		}, []string{"source"}),
		signalsRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rendezvous_signals_relayed_total",
			Help: "Signaling frames forwarded to their destination",
		}, []string{"type"}),
		peerUnavailable: f.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_peer_unavailable_total",
			Help: "Signaling frames addressed to an unknown peer",
		}),
		rendezvousClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "rendezvous_clients_connected",
			Help: "Peers registered on the rendezvous server",
		}),
	}
}

func (c *Collector) SetPeersConnected(n int) {
	if c == nil {
		return
	}
	c.peersConnected.Set(float64(n))
}

func (c *Collector) SetActiveCalls(n int) {
	if c == nil {
		return
	}
	c.activeCalls.Set(float64(n))
}

func (c *Collector) MessageSent() {
	if c == nil {
		return
	}
	c.messagesSent.Inc()
}

func (c *Collector) MessageReceived() {
	if c == nil {
		return
	}
	c.messagesReceived.Inc()
}

func (c *Collector) ProtocolError() {
	if c == nil {
		return
	}
	c.protocolErrors.Inc()
}

// MediaFailure counts a failed acquisition; source is "camera", "microphone" or "screen".
func (c *Collector) MediaFailure(source string) {
	if c == nil {
		return
	}
	c.mediaFailures.WithLabelValues(source).Inc()
}

func (c *Collector) SignalRelayed(typ string) {
	if c == nil {
		return
	}
	c.signalsRelayed.WithLabelValues(typ).Inc()
}

func (c *Collector) PeerUnavailable() {
	if c == nil {
		return
	}
	c.peerUnavailable.Inc()
}

func (c *Collector) SetRendezvousClients(n int) {
	if c == nil {
		return
	}
	c.rendezvousClients.Set(float64(n))
}
