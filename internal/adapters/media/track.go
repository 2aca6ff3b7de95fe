package media

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	opusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// Track is a capture track backed by a relay. It implements core.Track.
type Track struct {
	id    string
	kind  core.TrackKind
	codec webrtc.RTPCodecCapability
	relay *Relay

	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	release  func()
	onStop   func(*Track)

	mu      sync.Mutex
	onEnded []func()
	ended   bool

	logger zerolog.Logger
}

func newTrack(id string, kind core.TrackKind, src rtpSource, release func()) *Track {
	codec := opusCodec
	if kind == core.KindVideo {
		codec = vp8Codec
	}
	t := &Track{
		id:      id,
		kind:    kind,
		codec:   codec,
		relay:   newRelay(src),
		release: release,
		logger: log.With().
			Str("module", "media").
			Str("track", id).
			Str("kind", string(kind)).
			Logger(),
	}
	t.enabled.Store(true)
	t.relay.start(context.Background(), &t.logger, t.relayEnded)
	return t
}

func (t *Track) ID() string                       { return t.id }
func (t *Track) Kind() core.TrackKind             { return t.kind }
func (t *Track) Enabled() bool                    { return t.enabled.Load() }
func (t *Track) Stopped() bool                    { return t.stopped.Load() }
func (t *Track) Subscribers() int                 { return t.relay.subscribers() }
func (t *Track) Codec() webrtc.RTPCodecCapability { return t.codec }

func (t *Track) SetEnabled(on bool) {
	t.enabled.Store(on)
	t.relay.setGate(on)
}

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

// Subscribe creates a fresh local track for one peer connection.
func (t *Track) Subscribe(sub, streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(t.codec, t.id, streamID)
	if err != nil {
		return nil, err
	}
	t.relay.add(sub, newOutTrack(local))
	return local, nil
}

func (t *Track) Unsubscribe(sub string) { t.relay.remove(sub) }

// Hold stops feeding sub while its connection has no usable path.
func (t *Track) Hold(sub string, held bool) { t.relay.hold(sub, held) }

func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		t.relay.stop()
		if t.release != nil {
			t.release()
		}
		if t.onStop != nil {
			t.onStop(t)
		}
		t.logger.Debug().Msg("track stopped")
	})
}

func (t *Track) relayEnded(err error) {
	if err == nil || t.stopped.Load() {
		return
	}
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	hooks := append([]func(){}, t.onEnded...)
	t.mu.Unlock()

	t.logger.Info().Err(err).Msg("capture ended outside stop")
	for _, fn := range hooks {
		fn()
	}
}
