package core

import (
	"errors"

	"github.com/dkeye/Mesh/internal/domain"
)

// Frame is a raw payload carried over a data channel.
type Frame []byte

var (
	ErrBackpressure  = errors.New("backpressure")
	ErrChannelClosed = errors.New("channel closed")
)

// DataChannel is a reliable, ordered message pipe to exactly one peer.
// Owned by the adapter; the adapter must Close() it.
type DataChannel interface {
	Peer() domain.PeerID
	IsOpen() bool
	// Send is fire-and-forget. It must not block on a slow peer.
	Send(Frame) error
	OnOpen(func())
	OnData(func(Frame))
	OnClose(func())
	OnError(func(error))
	Close() error
}
