package rtc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

var ErrNotInbound = errors.New("only an inbound call can be answered")

// publisher is a local track able to feed several peer connections.
// Capture tracks from the media adapter satisfy it.
type publisher interface {
	Subscribe(sub, streamID string) (*webrtc.TrackLocalStaticRTP, error)
	Unsubscribe(sub string)
	Hold(sub string, held bool)
}

// mediaCall adapts one media PeerConnection to core.MediaCall.
type mediaCall struct {
	s        *Session
	conn     *peerConn
	outbound bool
	offer    string

	mu       sync.Mutex
	open     bool
	answered bool
	done     bool
	subs     []publisher
	remote   *core.RemoteStream
	onStream []func(*core.RemoteStream)
	onClose  []func()
	onError  []func(error)
}

func newMediaCall(s *Session, conn *peerConn, outbound bool, offer string) *mediaCall {
	c := &mediaCall{s: s, conn: conn, outbound: outbound, offer: offer, open: outbound}
	conn.pc.OnTrack(c.track)
	conn.onClose(c.closed)
	conn.onLinkChange(c.linkChanged)
	return c
}

// linkChanged stops feeding local media into a connection whose path is down.
func (c *mediaCall) linkChanged(up bool) {
	c.mu.Lock()
	subs := slices.Clone(c.subs)
	c.mu.Unlock()
	for _, p := range subs {
		p.Hold(c.conn.id, !up)
	}
	c.conn.logger.Debug().Bool("up", up).Int("tracks", len(subs)).Msg("media link")
}

// attach adds every publishable track of stream to the connection.
func (c *mediaCall) attach(stream *core.Stream) error {
	for _, t := range stream.Tracks() {
		p, ok := t.(publisher)
		if !ok {
			c.conn.logger.Warn().Str("track", t.ID()).Msg("track cannot be published, skipping")
			continue
		}
		local, err := p.Subscribe(c.conn.id, stream.ID())
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", t.ID(), err)
		}
		c.mu.Lock()
		c.subs = append(c.subs, p)
		c.mu.Unlock()
		sender, err := c.conn.pc.AddTrack(local)
		if err != nil {
			return fmt.Errorf("add track %s: %w", t.ID(), err)
		}
		go drainRTCP(sender)
	}
	return nil
}

// receiveAll makes an offer ask for both kinds even when we send neither.
func (c *mediaCall) receiveAll() error {
	have := map[webrtc.RTPCodecType]bool{}
	for _, tr := range c.conn.pc.GetTransceivers() {
		have[tr.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := c.conn.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// drainRTCP keeps the interceptors fed; the reports are not used here.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *mediaCall) track(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := core.KindAudio
	if tr.Kind() == webrtc.RTPCodecTypeVideo {
		kind = core.KindVideo
	}
	c.conn.logger.Info().
		Str("kind", string(kind)).
		Str("track_id", tr.ID()).
		Str("stream_id", tr.StreamID()).
		Msg("remote track")

	c.mu.Lock()
	if c.remote == nil || c.remote.ID != tr.StreamID() {
		c.remote = &core.RemoteStream{ID: tr.StreamID(), Peer: c.conn.peer}
	}
	c.remote.Tracks = append(c.remote.Tracks, core.RemoteTrack{ID: tr.ID(), Kind: kind})
	rs := &core.RemoteStream{ID: c.remote.ID, Peer: c.remote.Peer, Tracks: slices.Clone(c.remote.Tracks)}
	hooks := slices.Clone(c.onStream)
	c.mu.Unlock()

	go func() {
		for {
			if _, _, err := tr.ReadRTP(); err != nil {
				return
			}
		}
	}()
	for _, fn := range hooks {
		fn(rs)
	}
}

func (c *mediaCall) Peer() domain.PeerID { return c.conn.peer }

func (c *mediaCall) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *mediaCall) Answer(_ context.Context, stream *core.Stream) error {
	if c.outbound {
		return ErrNotInbound
	}
	c.mu.Lock()
	if c.answered {
		c.mu.Unlock()
		return nil
	}
	c.answered = true
	c.mu.Unlock()
	if c.conn.isClosed() {
		return core.ErrChannelClosed
	}

	if err := c.attach(stream); err != nil {
		return err
	}
	sdp, err := c.conn.applyOfferAndCreateAnswer(c.offer)
	if err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	if err := c.s.answer(c.conn, sdp); err != nil {
		return err
	}
	c.mu.Lock()
	c.open = !c.conn.isClosed()
	c.mu.Unlock()
	return nil
}

func (c *mediaCall) OnStream(fn func(*core.RemoteStream)) {
	c.mu.Lock()
	c.onStream = append(c.onStream, fn)
	c.mu.Unlock()
}

func (c *mediaCall) OnClose(fn func()) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *mediaCall) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

func (c *mediaCall) fail(err error) {
	c.mu.Lock()
	hooks := slices.Clone(c.onError)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(err)
	}
	_ = c.Close()
}

func (c *mediaCall) Close() error {
	c.conn.close()
	return nil
}

func (c *mediaCall) closed() {
	c.mu.Lock()
	c.open = false
	c.done = true
	subs := c.subs
	c.subs = nil
	hooks := slices.Clone(c.onClose)
	c.mu.Unlock()

	for _, p := range subs {
		p.Unsubscribe(c.conn.id)
	}
	for _, fn := range hooks {
		fn()
	}
}
