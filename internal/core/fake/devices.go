package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
)

type Track struct {
	mu      sync.Mutex
	id      string
	kind    core.TrackKind
	enabled bool
	stopped bool
	onEnded []func()
}

var _ core.Track = (*Track)(nil)

func NewTrack(id string, kind core.TrackKind) *Track {
	return &Track{id: id, kind: kind, enabled: true}
}

func (t *Track) ID() string           { return t.id }
func (t *Track) Kind() core.TrackKind { return t.kind }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

// End simulates capture ending on its own (native stop-sharing button).
func (t *Track) End() {
	t.mu.Lock()
	t.stopped = true
	hs := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()
	for _, h := range hs {
		h()
	}
}

// Devices is a scriptable capture backend. A non-nil Gate makes every
// acquisition wait until the gate is closed or receives.
type Devices struct {
	mu sync.Mutex

	VideoErr   error
	AudioErr   error
	DisplayErr error
	Gate       chan struct{}

	seq      int
	requests []core.Constraints
	displays int
	tracks   []*Track
	list     []core.DeviceInfo
}

var _ core.MediaDevices = (*Devices)(nil)

func NewDevices() *Devices {
	return &Devices{list: []core.DeviceInfo{
		{ID: "mic-1", Label: "Fake Microphone", Kind: core.DeviceAudioInput},
		{ID: "cam-1", Label: "Fake Camera", Kind: core.DeviceVideoInput},
		{ID: "out-1", Label: "Fake Speaker", Kind: core.DeviceAudioOutput},
	}}
}

func (d *Devices) wait(ctx context.Context) error {
	d.mu.Lock()
	gate := d.Gate
	d.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Devices) newTrack(kind core.TrackKind) *Track {
	d.seq++
	t := NewTrack(fmt.Sprintf("%s-%d", kind, d.seq), kind)
	d.tracks = append(d.tracks, t)
	return t
}

func (d *Devices) GetUserMedia(ctx context.Context, c core.Constraints) (*core.Stream, error) {
	d.mu.Lock()
	d.requests = append(d.requests, c)
	d.mu.Unlock()
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.Video && d.VideoErr != nil {
		return nil, d.VideoErr
	}
	if c.Audio && d.AudioErr != nil {
		return nil, d.AudioErr
	}
	var tracks []core.Track
	if c.Audio {
		tracks = append(tracks, d.newTrack(core.KindAudio))
	}
	if c.Video {
		tracks = append(tracks, d.newTrack(core.KindVideo))
	}
	d.seq++
	return core.NewStream(fmt.Sprintf("stream-%d", d.seq), tracks...), nil
}

func (d *Devices) GetDisplayMedia(ctx context.Context) (*core.Stream, error) {
	d.mu.Lock()
	d.displays++
	d.mu.Unlock()
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DisplayErr != nil {
		return nil, d.DisplayErr
	}
	t := d.newTrack(core.KindVideo)
	d.seq++
	return core.NewStream(fmt.Sprintf("screen-%d", d.seq), t), nil
}

func (d *Devices) EnumerateDevices(context.Context) ([]core.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]core.DeviceInfo, len(d.list))
	copy(out, d.list)
	return out, nil
}

func (d *Devices) SetVideoErr(err error) {
	d.mu.Lock()
	d.VideoErr = err
	d.mu.Unlock()
}

func (d *Devices) SetDisplayErr(err error) {
	d.mu.Lock()
	d.DisplayErr = err
	d.mu.Unlock()
}

func (d *Devices) SetGate(g chan struct{}) {
	d.mu.Lock()
	d.Gate = g
	d.mu.Unlock()
}

func (d *Devices) Requests() []core.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]core.Constraints, len(d.requests))
	copy(out, d.requests)
	return out
}

func (d *Devices) DisplayRequests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.displays
}

// Live counts produced tracks of kind that are still running.
func (d *Devices) Live(kind core.TrackKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.tracks {
		if t.kind == kind && !t.Stopped() {
			n++
		}
	}
	return n
}
