//go:build linux

package media

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const rtpMTU = 1200

// Devices captures camera, microphone and screen through pion/mediadevices.
type Devices struct {
	selector *mediadevices.CodecSelector
	live     *Registry
	maxWidth int
}

func NewDevices(videoBitrate, maxWidth int) (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	if videoBitrate > 0 {
		vpxParams.BitRate = videoBitrate
	}
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	if maxWidth <= 0 {
		maxWidth = 640
	}
	return &Devices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		live:     NewRegistry(),
		maxWidth: maxWidth,
	}, nil
}

// Populate registers the encoders' codecs on a media engine.
func (d *Devices) Populate(me *webrtc.MediaEngine) { d.selector.Populate(me) }

func (d *Devices) GetUserMedia(ctx context.Context, c core.Constraints) (*core.Stream, error) {
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: nothing requested", core.ErrNoDevices)
	}
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.DeviceID = c.VideoDeviceID
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: d.maxWidth}
		}
	}
	if c.Audio {
		constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {
			mc.DeviceID = c.AudioDeviceID
		}
	}
	return d.capture(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(constraints)
	})
}

func (d *Devices) GetDisplayMedia(ctx context.Context) (*core.Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameFormat = prop.FrameFormatOneOf{frame.FormatI420, frame.FormatRGBA}
		},
	}
	return d.capture(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(constraints)
	})
}

// capture runs a blocking driver call. If ctx ends first the late stream
// is closed once it arrives.
func (d *Devices) capture(ctx context.Context, open func() (mediadevices.MediaStream, error)) (*core.Stream, error) {
	type result struct {
		ms  mediadevices.MediaStream
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ms, err := open()
		ch <- result{ms, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				closeAll(r.ms)
			}
		}()
		return nil, fmt.Errorf("%w: %w", core.ErrCaptureCancelled, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			log.Warn().Str("module", "media").Err(r.err).Msg("capture failed")
			return nil, fmt.Errorf("%w: %w", core.ErrNoDevices, r.err)
		}
		return d.wrap(r.ms)
	}
}

func (d *Devices) wrap(ms mediadevices.MediaStream) (*core.Stream, error) {
	var tracks []core.Track
	for _, mt := range ms.GetTracks() {
		kind := core.KindAudio
		codec := opusCodec
		if mt.Kind() == webrtc.RTPCodecTypeVideo {
			kind = core.KindVideo
			codec = vp8Codec
		}
		name := codec.MimeType[strings.IndexByte(codec.MimeType, '/')+1:]
		reader, err := mt.NewRTPReader(name, rand.Uint32(), rtpMTU)
		if err != nil {
			for _, t := range tracks {
				t.Stop()
			}
			closeAll(ms)
			return nil, fmt.Errorf("%w: rtp reader: %w", core.ErrNoDevices, err)
		}
		t := newTrack(mt.ID(), kind, reader, func() { _ = mt.Close() })
		mt.OnEnded(func(err error) {
			if err != nil {
				t.relayEnded(err)
			}
		})
		d.live.add(t)
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return nil, core.ErrNoDevices
	}
	return core.NewStream(uuid.NewString(), tracks...), nil
}

func (d *Devices) EnumerateDevices(context.Context) ([]core.DeviceInfo, error) {
	var out []core.DeviceInfo
	for _, info := range mediadevices.EnumerateDevices() {
		var kind core.DeviceKind
		switch info.Kind {
		case mediadevices.AudioInput:
			kind = core.DeviceAudioInput
		case mediadevices.VideoInput:
			kind = core.DeviceVideoInput
		case mediadevices.AudioOutput:
			kind = core.DeviceAudioOutput
		default:
			continue
		}
		out = append(out, core.DeviceInfo{ID: info.DeviceID, Label: info.Label, Kind: kind})
	}
	return out, nil
}

// Close releases every capture device still held.
func (d *Devices) Close() error {
	d.live.StopAll()
	return nil
}

func closeAll(ms mediadevices.MediaStream) {
	for _, mt := range ms.GetTracks() {
		_ = mt.Close()
	}
}
