package orch

import (
	"errors"
	"fmt"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseInCall     Phase = "in_call"
)

// CallState is the one global call state. Mute and deafen live beside it.
type CallState struct {
	Phase     Phase  `json:"phase"`
	ChannelID string `json:"channelId,omitempty"`
	Video     bool   `json:"video"`
	Screen    bool   `json:"screen"`
	// Inbound is set for calls joined by accepting a ring.
	Inbound bool `json:"inbound"`
}

type PeerPhase string

const (
	PeerIdle          PeerPhase = "idle"
	PeerCalling       PeerPhase = "calling"
	PeerActive        PeerPhase = "active"
	PeerRenegotiating PeerPhase = "renegotiating"
	PeerClosed        PeerPhase = "closed"
)

var (
	ErrInvalidTransition = errors.New("invalid call state transition")
	ErrNotInCall         = fmt.Errorf("not in call: %w", ErrInvalidTransition)
	ErrBusy              = errors.New("media operation already in progress")
	ErrNoIncomingCall    = errors.New("no incoming call")
	ErrCancelled         = errors.New("media request outdated by a newer state")
	ErrMediaUnavailable  = errors.New("media unavailable")
	ErrInvalidVolume     = errors.New("volume must be within [0, 1]")
	ErrChannelRequired   = errors.New("channel id required")
)

type eventKind int

const (
	evAcquire eventKind = iota
	evJoined
	evAbort
	evCamera
	evScreen
	evReset
)

type event struct {
	kind    eventKind
	channel string
	inbound bool
	on      bool
}

// transition is the only way CallState changes.
func transition(s CallState, e event) (CallState, error) {
	switch e.kind {
	case evAcquire:
		if s.Phase != PhaseIdle {
			return s, fmt.Errorf("%w: acquire from %s", ErrInvalidTransition, s.Phase)
		}
		return CallState{Phase: PhaseConnecting, ChannelID: e.channel, Inbound: e.inbound}, nil
	case evJoined:
		if s.Phase != PhaseConnecting {
			return s, fmt.Errorf("%w: join from %s", ErrInvalidTransition, s.Phase)
		}
		s.Phase, s.Video, s.Screen = PhaseInCall, e.on, false
		if e.channel != "" {
			s.ChannelID = e.channel
		}
		return s, nil
	case evAbort:
		if s.Phase != PhaseConnecting {
			return s, fmt.Errorf("%w: abort from %s", ErrInvalidTransition, s.Phase)
		}
		return CallState{Phase: PhaseIdle}, nil
	case evCamera:
		if s.Phase != PhaseInCall {
			return s, ErrNotInCall
		}
		s.Video = e.on
		return s, nil
	case evScreen:
		if s.Phase != PhaseInCall {
			return s, ErrNotInCall
		}
		if s.Screen == e.on {
			return s, fmt.Errorf("%w: screen already %v", ErrInvalidTransition, e.on)
		}
		s.Screen = e.on
		return s, nil
	case evReset:
		return CallState{Phase: PhaseIdle}, nil
	}
	return s, fmt.Errorf("%w: unknown event %d", ErrInvalidTransition, e.kind)
}
