// Package fake holds in-memory stand-ins for the transport and capture
// collaborators. Tests drive them by hand.
package fake

import (
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

type DataChannel struct {
	mu      sync.Mutex
	peer    domain.PeerID
	open    bool
	closed  bool
	sent    []core.Frame
	sendErr error

	onOpen  []func()
	onData  []func(core.Frame)
	onClose []func()
	onError []func(error)
}

var _ core.DataChannel = (*DataChannel)(nil)

func NewDataChannel(peer domain.PeerID) *DataChannel {
	return &DataChannel{peer: peer}
}

func (d *DataChannel) Peer() domain.PeerID { return d.peer }

func (d *DataChannel) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *DataChannel) Send(f core.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return core.ErrChannelClosed
	}
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, slices.Clone(f))
	return nil
}

func (d *DataChannel) OnOpen(fn func()) {
	d.mu.Lock()
	d.onOpen = append(d.onOpen, fn)
	d.mu.Unlock()
}

func (d *DataChannel) OnData(fn func(core.Frame)) {
	d.mu.Lock()
	d.onData = append(d.onData, fn)
	d.mu.Unlock()
}

func (d *DataChannel) OnClose(fn func()) {
	d.mu.Lock()
	d.onClose = append(d.onClose, fn)
	d.mu.Unlock()
}

func (d *DataChannel) OnError(fn func(error)) {
	d.mu.Lock()
	d.onError = append(d.onError, fn)
	d.mu.Unlock()
}

// Open marks the channel open and fires open handlers.
func (d *DataChannel) Open() {
	d.mu.Lock()
	d.open = true
	hs := slices.Clone(d.onOpen)
	d.mu.Unlock()
	for _, h := range hs {
		h()
	}
}

// Receive delivers f as if the remote side sent it.
func (d *DataChannel) Receive(f core.Frame) {
	d.mu.Lock()
	hs := slices.Clone(d.onData)
	d.mu.Unlock()
	for _, h := range hs {
		h(f)
	}
}

func (d *DataChannel) Fail(err error) {
	d.mu.Lock()
	d.open = false
	hs := slices.Clone(d.onError)
	d.mu.Unlock()
	for _, h := range hs {
		h(err)
	}
}

func (d *DataChannel) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.open = false
	hs := slices.Clone(d.onClose)
	d.mu.Unlock()
	for _, h := range hs {
		h()
	}
	return nil
}

func (d *DataChannel) SetSendErr(err error) {
	d.mu.Lock()
	d.sendErr = err
	d.mu.Unlock()
}

func (d *DataChannel) Sent() []core.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.sent)
}

func (d *DataChannel) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
