package core

import (
	"context"
	"errors"
	"slices"

	"github.com/dkeye/Mesh/internal/domain"
)

var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrNoDevices        = errors.New("no capture device available")
	ErrCaptureCancelled = errors.New("capture cancelled by user")
)

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Track is one local capture track. Disabling keeps the track (and its
// negotiated sender) alive; Stop releases the hardware for good.
type Track interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	Stop()
	Stopped() bool
	// OnEnded fires once when capture ends outside of Stop, e.g. the user
	// pressed a native stop-sharing control.
	OnEnded(func())
}

// Stream is an immutable set of local tracks handed to calls.
type Stream struct {
	id     string
	tracks []Track
}

func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{id: id, tracks: slices.Clone(tracks)}
}

func (s *Stream) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

func (s *Stream) Tracks() []Track {
	if s == nil {
		return nil
	}
	return slices.Clone(s.tracks)
}

func (s *Stream) byKind(k TrackKind) []Track {
	if s == nil {
		return nil
	}
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == k {
			out = append(out, t)
		}
	}
	return out
}

func (s *Stream) AudioTracks() []Track { return s.byKind(KindAudio) }
func (s *Stream) VideoTracks() []Track { return s.byKind(KindVideo) }
func (s *Stream) HasVideo() bool       { return len(s.VideoTracks()) > 0 }

// Stop stops every track. Safe on nil and safe to repeat.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	for _, t := range s.tracks {
		t.Stop()
	}
}

// LiveTracks counts tracks that were not stopped yet.
func (s *Stream) LiveTracks() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range s.tracks {
		if !t.Stopped() {
			n++
		}
	}
	return n
}

type RemoteTrack struct {
	ID   string    `json:"id"`
	Kind TrackKind `json:"kind"`
}

// RemoteStream describes what a peer sends us. Playback happens outside the core.
type RemoteStream struct {
	ID     string        `json:"id"`
	Peer   domain.PeerID `json:"peer"`
	Tracks []RemoteTrack `json:"tracks"`
}

func (r *RemoteStream) HasVideo() bool {
	if r == nil {
		return false
	}
	for _, t := range r.Tracks {
		if t.Kind == KindVideo {
			return true
		}
	}
	return false
}

// MediaCall is a media transport to one peer. A new call to the same peer
// replaces the old one; the two never coexist.
type MediaCall interface {
	Peer() domain.PeerID
	IsOpen() bool
	// Answer accepts an inbound call with the local stream.
	Answer(ctx context.Context, stream *Stream) error
	OnStream(func(*RemoteStream))
	OnClose(func())
	OnError(func(error))
	Close() error
}

type Constraints struct {
	Audio         bool
	Video         bool
	AudioDeviceID string
	VideoDeviceID string
}

type DeviceKind string

const (
	DeviceAudioInput  DeviceKind = "audioinput"
	DeviceVideoInput  DeviceKind = "videoinput"
	DeviceAudioOutput DeviceKind = "audiooutput"
)

type DeviceInfo struct {
	ID    string     `json:"deviceId"`
	Label string     `json:"label"`
	Kind  DeviceKind `json:"kind"`
}

// DevicePreferences are the user's chosen input/output devices. Empty means default.
type DevicePreferences struct {
	AudioInputID  string `json:"audioInputId"`
	VideoInputID  string `json:"videoInputId"`
	AudioOutputID string `json:"audioOutputId"`
}

// MediaDevices acquires local capture streams. Calls may block on
// permission prompts or hardware startup.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
	// GetDisplayMedia captures the screen, video only.
	GetDisplayMedia(ctx context.Context) (*Stream, error)
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)
}
