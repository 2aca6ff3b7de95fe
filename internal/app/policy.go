package app

import "github.com/dkeye/Mesh/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickPeer
)

// Policy decides what a broadcast does with a peer that cannot keep up.
type Policy interface {
	OnBackpressure(peer domain.PeerID, strikes int) BackpressureAction
}

// SimplePolicy drops frames for a slow peer and closes its channel after
// MaxStrikes consecutive drops. Zero MaxStrikes never kicks.
type SimplePolicy struct {
	MaxStrikes int
}

func (p SimplePolicy) OnBackpressure(_ domain.PeerID, strikes int) BackpressureAction {
	if p.MaxStrikes > 0 && strikes >= p.MaxStrikes {
		return KickPeer
	}
	return DropFrame
}
