package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/core/fake"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stateLog struct {
	mu     sync.Mutex
	states []Connectivity
}

func (l *stateLog) add(s Connectivity) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) all() []Connectivity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Connectivity(nil), l.states...)
}

func openChannel(peer domain.PeerID) *fake.DataChannel {
	dc := fake.NewDataChannel(peer)
	dc.Open()
	return dc
}

func TestRegistryConnectivityFollowsEntries(t *testing.T) {
	r := NewRegistry(nil, nil)
	var log stateLog
	r.OnConnectivity(log.add)

	r.SetConnecting()
	r.Register("a", openChannel("a"))
	r.Register("b", openChannel("b"))
	assert.Equal(t, Connected, r.Connectivity())
	assert.Equal(t, 2, r.Len())

	assert.True(t, r.Unregister("a"))
	assert.Equal(t, Connected, r.Connectivity())
	assert.True(t, r.Unregister("b"))
	assert.False(t, r.Unregister("b"))

	assert.True(t, r.IsEmpty())
	assert.Equal(t, []Connectivity{Connecting, Connected, Disconnected}, log.all())
}

func TestRegistryReplaceKeepsNewest(t *testing.T) {
	r := NewRegistry(nil, nil)
	old, fresh := openChannel("a"), openChannel("a")
	r.Register("a", old)
	r.Register("a", fresh)

	assert.False(t, r.UnregisterChannel("a", old), "stale channel must not evict its replacement")
	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, fresh, got)

	assert.True(t, r.UnregisterChannel("a", fresh))
	assert.False(t, r.Has("a"))
}

func TestRegistryRemovedListenerSeesFinalState(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register("a", openChannel("a"))
	var seen []bool
	r.OnRemoved(func(p domain.PeerID) { seen = append(seen, r.Has(p)) })
	r.Unregister("a")
	assert.Equal(t, []bool{false}, seen)
}

func TestRegistryResetIfEmpty(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.SetConnecting()
	assert.Equal(t, Connecting, r.Connectivity())
	r.ResetIfEmpty()
	assert.Equal(t, Disconnected, r.Connectivity())

	r.Register("a", openChannel("a"))
	r.SetConnecting()
	r.ResetIfEmpty()
	assert.Equal(t, Connected, r.Connectivity())
}

func TestRegistryForEachSnapshot(t *testing.T) {
	r := NewRegistry(nil, nil)
	for _, p := range []domain.PeerID{"a", "b", "c"} {
		r.Register(p, openChannel(p))
	}
	visited := 0
	r.ForEach(func(p domain.PeerID, _ core.DataChannel) {
		visited++
		r.Unregister(p)
	})
	assert.Equal(t, 3, visited)
	assert.True(t, r.IsEmpty())
}

func TestBroadcastSkipsClosedAndCountsDrops(t *testing.T) {
	r := NewRegistry(SimplePolicy{MaxStrikes: 2}, nil)
	ok := openChannel("ok")
	shut := fake.NewDataChannel("shut")
	slow := openChannel("slow")
	slow.SetSendErr(core.ErrBackpressure)
	broken := openChannel("broken")
	broken.SetSendErr(errors.New("sctp gone"))
	for _, dc := range []*fake.DataChannel{ok, shut, slow, broken} {
		r.Register(dc.Peer(), dc)
	}

	res := r.Broadcast(core.Frame(`{}`))
	assert.Equal(t, 1, res.SendTo)
	assert.ElementsMatch(t, []domain.PeerID{"slow", "broken"}, res.Dropped)
	assert.Len(t, ok.Sent(), 1)
	assert.False(t, slow.Closed())

	r.Broadcast(core.Frame(`{}`))
	assert.True(t, slow.Closed(), "second strike closes the slow peer")
	assert.False(t, broken.Closed())
}

func TestSimplePolicyNeverKicksByDefault(t *testing.T) {
	assert.Equal(t, DropFrame, SimplePolicy{}.OnBackpressure("a", 100))
	assert.Equal(t, KickPeer, SimplePolicy{MaxStrikes: 3}.OnBackpressure("a", 3))
}
