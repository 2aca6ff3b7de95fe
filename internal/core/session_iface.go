package core

import (
	"context"
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
)

type SignalErrorKind string

const (
	SignalPeerUnavailable SignalErrorKind = "peer-unavailable"
	SignalNetwork         SignalErrorKind = "network"
	SignalServer          SignalErrorKind = "server-error"
)

// SignalError is reported by the rendezvous session. It is never fatal.
type SignalError struct {
	Kind SignalErrorKind
	Peer domain.PeerID
	Err  error
}

func (e SignalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signal %s (peer %q): %v", e.Kind, e.Peer, e.Err)
	}
	return fmt.Sprintf("signal %s (peer %q)", e.Kind, e.Peer)
}

func (e SignalError) Unwrap() error { return e.Err }

// Signaler is one logical session with the rendezvous service,
// registered under the local PeerID.
type Signaler interface {
	ID() domain.PeerID
	// Connect dials a data channel to peer. The channel may still be opening.
	Connect(ctx context.Context, peer domain.PeerID) (DataChannel, error)
	// Call starts an outbound media call to peer carrying stream.
	Call(ctx context.Context, peer domain.PeerID, stream *Stream) (MediaCall, error)
	OnConnection(func(DataChannel))
	OnCall(func(MediaCall))
	OnError(func(SignalError))
	Close() error
}
