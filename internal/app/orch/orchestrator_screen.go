package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ToggleScreenShare starts or stops sharing the screen. The shared stream
// is the display video plus a separate microphone capture. Stopping, by
// toggle or by the capture ending on its own, reverts every call partner
// to the camera stream.
func (o *Orchestrator) ToggleScreenShare(ctx context.Context) error {
	o.mu.Lock()
	if o.state.Phase != PhaseInCall {
		o.mu.Unlock()
		return ErrNotInCall
	}
	if o.busy {
		o.mu.Unlock()
		return ErrBusy
	}
	if o.state.Screen {
		var fx effects
		o.revertScreenLocked(&fx)
		o.mu.Unlock()
		o.run(context.WithoutCancel(ctx), fx)
		return nil
	}
	o.busy = true
	epoch, prefs := o.epoch, o.prefs
	o.mu.Unlock()

	display, mic, err := o.acquireScreen(ctx, prefs)

	o.mu.Lock()
	o.busy = false
	if o.epoch != epoch {
		o.mu.Unlock()
		display.Stop()
		mic.Stop()
		return ErrCancelled
	}
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if err := o.setStateLocked(event{kind: evScreen, on: true}); err != nil {
		o.mu.Unlock()
		display.Stop()
		mic.Stop()
		return err
	}
	tracks := append(display.VideoTracks(), mic.AudioTracks()...)
	combined := core.NewStream(uuid.NewString(), tracks...)
	o.screen, o.screenSrc, o.screenMic = combined, display, mic
	o.applyMuteLocked()
	fx := effects{stream: combined, calls: o.handlePeersLocked()}
	o.mu.Unlock()

	for _, t := range display.VideoTracks() {
		t.OnEnded(func() { o.onScreenEnded(combined) })
	}
	log.Info().Str("module", "orch").Int("renegotiate", len(fx.calls)).Msg("screen share started")
	o.run(context.WithoutCancel(ctx), fx)
	return nil
}

// acquireScreen captures video only from the display, then the mic on its own.
func (o *Orchestrator) acquireScreen(ctx context.Context, prefs core.DevicePreferences) (*core.Stream, *core.Stream, error) {
	display, err := o.devices.GetDisplayMedia(ctx)
	if err != nil {
		o.m.MediaFailure("screen")
		return nil, nil, fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
	}
	mic, err := o.devices.GetUserMedia(ctx, core.Constraints{Audio: true, AudioDeviceID: prefs.AudioInputID})
	if err != nil {
		display.Stop()
		o.m.MediaFailure("microphone")
		return nil, nil, fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
	}
	return display, mic, nil
}

func (o *Orchestrator) onScreenEnded(s *core.Stream) {
	o.mu.Lock()
	if o.screen != s {
		o.mu.Unlock()
		return
	}
	var fx effects
	o.revertScreenLocked(&fx)
	o.mu.Unlock()
	log.Info().Str("module", "orch").Msg("screen capture ended by user")
	o.run(context.Background(), fx)
}

// revertScreenLocked drops the screen stream and renegotiates call
// partners with the camera stream, which is camera+mic or mic only.
func (o *Orchestrator) revertScreenLocked(fx *effects) {
	if err := o.setStateLocked(event{kind: evScreen, on: false}); err != nil {
		return
	}
	fx.stop = append(fx.stop, o.screenSrc, o.screenMic)
	o.screen, o.screenSrc, o.screenMic = nil, nil, nil
	fx.stream = o.camera
	fx.calls = o.handlePeersLocked()
}
