package media

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type OutState int32

const (
	OutOk OutState = iota
	OutPaused
	OutDelete
)

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
}

// OutTrack is one call's copy of a capture track.
type OutTrack struct {
	w     rtpWriter
	state atomic.Int32
}

func newOutTrack(w rtpWriter) *OutTrack {
	return &OutTrack{w: w}
}

func (o *OutTrack) State() OutState { return OutState(o.state.Load()) }

// Pause and Resume never bring back a track marked for delete.
func (o *OutTrack) Pause()  { o.state.CompareAndSwap(int32(OutOk), int32(OutPaused)) }
func (o *OutTrack) Resume() { o.state.CompareAndSwap(int32(OutPaused), int32(OutOk)) }

func (o *OutTrack) MarkDelete() { o.state.Store(int32(OutDelete)) }
