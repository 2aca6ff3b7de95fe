package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/rs/zerolog/log"
)

// acquire gets camera+mic, falling back to mic only when video fails.
func (o *Orchestrator) acquire(ctx context.Context, withVideo bool, prefs core.DevicePreferences) (*core.Stream, bool, error) {
	c := core.Constraints{
		Audio:         true,
		Video:         withVideo,
		AudioDeviceID: prefs.AudioInputID,
		VideoDeviceID: prefs.VideoInputID,
	}
	s, err := o.devices.GetUserMedia(ctx, c)
	if err == nil {
		return s, withVideo, nil
	}
	if !withVideo {
		o.m.MediaFailure("microphone")
		return nil, false, err
	}
	o.m.MediaFailure("camera")
	log.Warn().Str("module", "orch").Err(err).Msg("camera unavailable, retrying audio only")
	c.Video = false
	s, err = o.devices.GetUserMedia(ctx, c)
	if err != nil {
		o.m.MediaFailure("microphone")
		return nil, false, err
	}
	return s, false, nil
}

// StartCall joins channelID, calling every registered peer. Joining the
// channel already in progress only turns the camera on when asked.
func (o *Orchestrator) StartCall(ctx context.Context, withVideo bool, channelID string) error {
	if channelID == "" {
		return ErrChannelRequired
	}
	var fx effects
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return ErrBusy
	}
	if o.state.Phase == PhaseInCall && o.state.ChannelID == channelID {
		needCam := withVideo && !o.state.Video
		o.mu.Unlock()
		if needCam {
			return o.ToggleCamera(ctx)
		}
		return nil
	}
	if o.state.Phase == PhaseInCall {
		log.Info().Str("module", "orch").Str("from", o.state.ChannelID).Str("to", channelID).Msg("switching call channel")
		o.teardownLocked(&fx)
	}
	if err := o.setStateLocked(event{kind: evAcquire, channel: channelID}); err != nil {
		o.mu.Unlock()
		return err
	}
	o.busy = true
	epoch, prefs := o.epoch, o.prefs
	o.mu.Unlock()
	o.run(ctx, fx)

	stream, video, err := o.acquire(ctx, withVideo, prefs)

	o.mu.Lock()
	o.busy = false
	if o.epoch != epoch {
		o.mu.Unlock()
		stream.Stop()
		return ErrCancelled
	}
	if err != nil {
		_ = o.setStateLocked(event{kind: evAbort})
		o.mu.Unlock()
		o.publishState()
		return fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
	}
	o.joinLocked(stream, video, "")
	st := o.localStatusLocked()
	fx = effects{status: &st, stream: stream, calls: o.reg.Peers()}
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("channel", channelID).Bool("video", video).Int("peers", len(fx.calls)).Msg("call started")
	o.run(context.WithoutCancel(ctx), fx)
	return nil
}

// joinLocked moves Connecting to InCall with a fresh camera stream.
func (o *Orchestrator) joinLocked(stream *core.Stream, video bool, channelID string) {
	_ = o.setStateLocked(event{kind: evJoined, on: video, channel: channelID})
	o.camera = stream
	o.muted, o.deafened = false, false
	o.applyMuteLocked()
	o.peers.ClearCallState()
	clear(o.ended)
}

// ToggleCamera swaps the camera stream for one with the opposite video
// setting. The old stream stops only after the new one is ready. Peers
// that currently send us media are renegotiated, unless a screen share
// is the outbound stream.
func (o *Orchestrator) ToggleCamera(ctx context.Context) error {
	o.mu.Lock()
	if o.state.Phase != PhaseInCall {
		o.mu.Unlock()
		return ErrNotInCall
	}
	if o.busy {
		o.mu.Unlock()
		return ErrBusy
	}
	want := !o.state.Video
	o.busy = true
	epoch, prefs := o.epoch, o.prefs
	o.mu.Unlock()

	stream, err := o.devices.GetUserMedia(ctx, core.Constraints{
		Audio:         true,
		Video:         want,
		AudioDeviceID: prefs.AudioInputID,
		VideoDeviceID: prefs.VideoInputID,
	})

	o.mu.Lock()
	o.busy = false
	if o.epoch != epoch {
		o.mu.Unlock()
		stream.Stop()
		return ErrCancelled
	}
	if err != nil {
		o.mu.Unlock()
		o.m.MediaFailure("camera")
		return fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
	}
	if err := o.setStateLocked(event{kind: evCamera, on: want}); err != nil {
		o.mu.Unlock()
		stream.Stop()
		return err
	}
	old := o.camera
	o.camera = stream
	o.applyMuteLocked()
	st := o.localStatusLocked()
	fx := effects{stop: []*core.Stream{old}, status: &st, stream: stream}
	if !o.state.Screen {
		fx.calls = o.peers.WithStream()
	}
	o.mu.Unlock()

	log.Info().Str("module", "orch").Bool("camera", want).Int("renegotiate", len(fx.calls)).Msg("camera toggled")
	o.run(context.WithoutCancel(ctx), fx)
	return nil
}
