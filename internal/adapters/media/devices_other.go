//go:build !linux

package media

import (
	"context"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/pion/webrtc/v4"
)

// Devices has no capture drivers on this platform.
type Devices struct {
	live *Registry
}

func NewDevices(int, int) (*Devices, error) {
	return &Devices{live: NewRegistry()}, nil
}

func (d *Devices) Populate(me *webrtc.MediaEngine) {
	_ = me.RegisterDefaultCodecs()
}

func (d *Devices) GetUserMedia(context.Context, core.Constraints) (*core.Stream, error) {
	return nil, core.ErrNoDevices
}

func (d *Devices) GetDisplayMedia(context.Context) (*core.Stream, error) {
	return nil, core.ErrNoDevices
}

func (d *Devices) EnumerateDevices(context.Context) ([]core.DeviceInfo, error) {
	return nil, nil
}

func (d *Devices) Close() error {
	d.live.StopAll()
	return nil
}
