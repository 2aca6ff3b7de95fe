package app

import (
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

// RemotePeer is what we know about one peer. Muted and CameraOn are the
// peer's own report; they are never derived from its tracks.
type RemotePeer struct {
	ID       domain.PeerID      `json:"id"`
	Profile  *domain.Profile    `json:"profile,omitempty"`
	Muted    bool               `json:"muted"`
	CameraOn bool               `json:"cameraOn"`
	Stream   *core.RemoteStream `json:"stream,omitempty"`
}

type PeerTable struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*RemotePeer
	bus   *Bus
}

func NewPeerTable(bus *Bus) *PeerTable {
	return &PeerTable{peers: make(map[domain.PeerID]*RemotePeer), bus: bus}
}

func (t *PeerTable) entryLocked(id domain.PeerID) *RemotePeer {
	p, ok := t.peers[id]
	if !ok {
		p = &RemotePeer{ID: id}
		t.peers[id] = p
	}
	return p
}

func clonePeer(p *RemotePeer) RemotePeer {
	out := *p
	if p.Profile != nil {
		prof := *p.Profile
		out.Profile = &prof
	}
	return out
}

// SetProfile stores a handshake profile under the channel's peer id.
func (t *PeerTable) SetProfile(id domain.PeerID, prof domain.Profile) {
	t.mu.Lock()
	p := t.entryLocked(id)
	p.Profile = &prof
	t.mu.Unlock()
	t.bus.Publish(Event{Type: EventPeerProfile, Peer: id, Data: prof})
}

func (t *PeerTable) SetStatus(id domain.PeerID, st domain.CallStatus) {
	t.mu.Lock()
	p := t.entryLocked(id)
	p.Muted, p.CameraOn = st.Muted, st.CameraOn
	t.mu.Unlock()
	t.bus.Publish(Event{Type: EventPeerStatus, Peer: id, Data: st})
}

func (t *PeerTable) SetStream(id domain.PeerID, rs *core.RemoteStream) {
	t.mu.Lock()
	t.entryLocked(id).Stream = rs
	t.mu.Unlock()
	t.bus.Publish(Event{Type: EventRemoteStream, Peer: id, Data: rs})
}

// ClearStream drops the peer's stream card. Reports whether one existed.
func (t *PeerTable) ClearStream(id domain.PeerID) bool {
	t.mu.Lock()
	p, ok := t.peers[id]
	had := ok && p.Stream != nil
	if had {
		p.Stream = nil
	}
	t.mu.Unlock()
	if had {
		t.bus.Publish(Event{Type: EventRemoteStream, Peer: id})
	}
	return had
}

// ClearCallState forgets every stream and reported status. Profiles stay.
func (t *PeerTable) ClearCallState() {
	t.mu.Lock()
	for _, p := range t.peers {
		p.Stream = nil
		p.Muted, p.CameraOn = false, false
	}
	t.mu.Unlock()
}

func (t *PeerTable) Remove(id domain.PeerID) {
	t.mu.Lock()
	_, ok := t.peers[id]
	delete(t.peers, id)
	t.mu.Unlock()
	if ok {
		t.bus.Publish(Event{Type: EventPeerLeft, Peer: id})
	}
}

func (t *PeerTable) Get(id domain.PeerID) (RemotePeer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	if !ok {
		return RemotePeer{}, false
	}
	return clonePeer(p), true
}

func (t *PeerTable) Snapshot() []RemotePeer {
	t.mu.RLock()
	out := make([]RemotePeer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, clonePeer(p))
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b RemotePeer) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// WithStream lists peers that currently send us media.
func (t *PeerTable) WithStream() []domain.PeerID {
	t.mu.RLock()
	var out []domain.PeerID
	for id, p := range t.peers {
		if p.Stream != nil {
			out = append(out, id)
		}
	}
	t.mu.RUnlock()
	slices.Sort(out)
	return out
}

// DisplayName is the best-known username, or the placeholder.
func (t *PeerTable) DisplayName(id domain.PeerID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.peers[id]; ok && p.Profile != nil && p.Profile.Username != "" {
		return p.Profile.Username
	}
	return domain.UnknownUsername
}
