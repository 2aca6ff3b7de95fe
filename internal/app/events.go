package app

import (
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
)

type EventType string

const (
	EventConnectivity EventType = "connectivity"
	EventPeerProfile  EventType = "peer_profile"
	EventPeerStatus   EventType = "peer_status"
	EventPeerLeft     EventType = "peer_left"
	EventRemoteStream EventType = "remote_stream"
	EventIncomingCall EventType = "incoming_call"
	EventCallState    EventType = "call_state"
	EventMessage      EventType = "message"
	EventChannels     EventType = "channels"
)

type Event struct {
	Type EventType     `json:"type"`
	Peer domain.PeerID `json:"peer,omitempty"`
	Data any           `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe returns an event channel and a function that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish is safe on a nil Bus.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
