package fake

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

type Signaler struct {
	mu         sync.Mutex
	id         domain.PeerID
	dials      []*DataChannel
	calls      []*Call
	connectErr error
	callErr    error
	closed     bool

	onConn  []func(core.DataChannel)
	onCall  []func(core.MediaCall)
	onError []func(core.SignalError)
}

var _ core.Signaler = (*Signaler)(nil)

func NewSignaler(id domain.PeerID) *Signaler {
	return &Signaler{id: id}
}

func (s *Signaler) ID() domain.PeerID { return s.id }

func (s *Signaler) Connect(_ context.Context, peer domain.PeerID) (core.DataChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	dc := NewDataChannel(peer)
	s.dials = append(s.dials, dc)
	return dc, nil
}

func (s *Signaler) Call(_ context.Context, peer domain.PeerID, stream *core.Stream) (core.MediaCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callErr != nil {
		return nil, s.callErr
	}
	c := NewOutboundCall(peer, stream)
	s.calls = append(s.calls, c)
	return c, nil
}

func (s *Signaler) OnConnection(fn func(core.DataChannel)) {
	s.mu.Lock()
	s.onConn = append(s.onConn, fn)
	s.mu.Unlock()
}

func (s *Signaler) OnCall(fn func(core.MediaCall)) {
	s.mu.Lock()
	s.onCall = append(s.onCall, fn)
	s.mu.Unlock()
}

func (s *Signaler) OnError(fn func(core.SignalError)) {
	s.mu.Lock()
	s.onError = append(s.onError, fn)
	s.mu.Unlock()
}

func (s *Signaler) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Signaler) EmitConnection(dc core.DataChannel) {
	s.mu.Lock()
	hs := slices.Clone(s.onConn)
	s.mu.Unlock()
	for _, h := range hs {
		h(dc)
	}
}

func (s *Signaler) EmitCall(c core.MediaCall) {
	s.mu.Lock()
	hs := slices.Clone(s.onCall)
	s.mu.Unlock()
	for _, h := range hs {
		h(c)
	}
}

func (s *Signaler) EmitError(e core.SignalError) {
	s.mu.Lock()
	hs := slices.Clone(s.onError)
	s.mu.Unlock()
	for _, h := range hs {
		h(e)
	}
}

func (s *Signaler) SetConnectErr(err error) {
	s.mu.Lock()
	s.connectErr = err
	s.mu.Unlock()
}

func (s *Signaler) SetCallErr(err error) {
	s.mu.Lock()
	s.callErr = err
	s.mu.Unlock()
}

func (s *Signaler) Dials() []*DataChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.dials)
}

// Calls returns every outbound call made so far, oldest first.
func (s *Signaler) Calls() []*Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallsTo filters Calls by peer.
func (s *Signaler) CallsTo(peer domain.PeerID) []*Call {
	var out []*Call
	for _, c := range s.Calls() {
		if c.Peer() == peer {
			out = append(out, c)
		}
	}
	return out
}

func (s *Signaler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
