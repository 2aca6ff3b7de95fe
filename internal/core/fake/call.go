package fake

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

type Call struct {
	mu        sync.Mutex
	peer      domain.PeerID
	open      bool
	closed    bool
	offered   *core.Stream
	answered  *core.Stream
	answerErr error

	onStream []func(*core.RemoteStream)
	onClose  []func()
	onError  []func(error)
}

var _ core.MediaCall = (*Call)(nil)

// NewOutboundCall is what a dial returns: already open, carrying stream.
func NewOutboundCall(peer domain.PeerID, stream *core.Stream) *Call {
	return &Call{peer: peer, open: true, offered: stream}
}

// NewInboundCall is a ringing call; it opens on Answer.
func NewInboundCall(peer domain.PeerID) *Call {
	return &Call{peer: peer}
}

func (c *Call) Peer() domain.PeerID { return c.peer }

func (c *Call) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Call) Answer(_ context.Context, s *core.Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return c.answerErr
	}
	if c.closed {
		return core.ErrChannelClosed
	}
	c.answered = s
	c.open = true
	return nil
}

func (c *Call) OnStream(fn func(*core.RemoteStream)) {
	c.mu.Lock()
	c.onStream = append(c.onStream, fn)
	c.mu.Unlock()
}

func (c *Call) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *Call) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

func (c *Call) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	hs := slices.Clone(c.onClose)
	c.mu.Unlock()
	for _, h := range hs {
		h()
	}
	return nil
}

// EmitStream simulates the remote side's media arriving.
func (c *Call) EmitStream(rs *core.RemoteStream) {
	c.mu.Lock()
	hs := slices.Clone(c.onStream)
	c.mu.Unlock()
	for _, h := range hs {
		h(rs)
	}
}

func (c *Call) Fail(err error) {
	c.mu.Lock()
	hs := slices.Clone(c.onError)
	c.mu.Unlock()
	for _, h := range hs {
		h(err)
	}
}

func (c *Call) SetAnswerErr(err error) {
	c.mu.Lock()
	c.answerErr = err
	c.mu.Unlock()
}

func (c *Call) Offered() *core.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offered
}

func (c *Call) Answered() *core.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered
}

func (c *Call) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Remote builds a remote stream description for peer.
func Remote(peer domain.PeerID, kinds ...core.TrackKind) *core.RemoteStream {
	rs := &core.RemoteStream{ID: "remote-" + string(peer), Peer: peer}
	for i, k := range kinds {
		rs.Tracks = append(rs.Tracks, core.RemoteTrack{ID: string(k) + "-" + string(rune('0'+i)), Kind: k})
	}
	return rs
}
