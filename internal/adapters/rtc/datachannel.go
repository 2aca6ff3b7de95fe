package rtc

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

const dataLabel = "mesh"

// dataChannel adapts a pion data channel to core.DataChannel.
type dataChannel struct {
	peer        domain.PeerID
	conn        *peerConn
	dc          *webrtc.DataChannel
	maxBuffered uint64

	mu      sync.Mutex
	open    bool
	ended   bool
	onOpen  []func()
	onData  []func(core.Frame)
	onClose []func()
	onError []func(error)
}

func newDataChannel(conn *peerConn, dc *webrtc.DataChannel, maxBuffered uint64) *dataChannel {
	d := &dataChannel{peer: conn.peer, conn: conn, dc: dc, maxBuffered: maxBuffered}
	dc.OnOpen(d.opened)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.mu.Lock()
		hooks := slices.Clone(d.onData)
		d.mu.Unlock()
		for _, fn := range hooks {
			fn(core.Frame(msg.Data))
		}
	})
	dc.OnError(func(err error) {
		d.mu.Lock()
		hooks := slices.Clone(d.onError)
		d.mu.Unlock()
		for _, fn := range hooks {
			fn(err)
		}
	})
	dc.OnClose(d.finish)
	conn.onClose(d.finish)
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		d.opened()
	}
	return d
}

func (d *dataChannel) opened() {
	d.mu.Lock()
	if d.open || d.ended {
		d.mu.Unlock()
		return
	}
	d.open = true
	hooks := slices.Clone(d.onOpen)
	d.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (d *dataChannel) finish() {
	d.mu.Lock()
	if d.ended {
		d.mu.Unlock()
		return
	}
	d.ended = true
	d.open = false
	hooks := slices.Clone(d.onClose)
	d.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	d.conn.close()
}

// fail reports err to the error listeners, then closes.
func (d *dataChannel) fail(err error) {
	d.mu.Lock()
	hooks := slices.Clone(d.onError)
	d.mu.Unlock()
	for _, fn := range hooks {
		fn(err)
	}
	_ = d.Close()
}

func (d *dataChannel) Peer() domain.PeerID { return d.peer }

func (d *dataChannel) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *dataChannel) Send(f core.Frame) error {
	if !d.IsOpen() {
		return core.ErrChannelClosed
	}
	if d.maxBuffered > 0 && d.dc.BufferedAmount() > d.maxBuffered {
		return core.ErrBackpressure
	}
	if err := d.dc.Send(f); err != nil {
		return fmt.Errorf("send to %s: %w", d.peer, err)
	}
	return nil
}

func (d *dataChannel) OnOpen(fn func()) {
	d.mu.Lock()
	d.onOpen = append(d.onOpen, fn)
	d.mu.Unlock()
}

func (d *dataChannel) OnData(fn func(core.Frame)) {
	d.mu.Lock()
	d.onData = append(d.onData, fn)
	d.mu.Unlock()
}

func (d *dataChannel) OnClose(fn func()) {
	d.mu.Lock()
	d.onClose = append(d.onClose, fn)
	d.mu.Unlock()
}

func (d *dataChannel) OnError(fn func(error)) {
	d.mu.Lock()
	d.onError = append(d.onError, fn)
	d.mu.Unlock()
}

func (d *dataChannel) Close() error {
	err := d.dc.Close()
	d.finish()
	return err
}
