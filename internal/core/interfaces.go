package core

import (
	"context"

	"github.com/dkeye/Mesh/internal/domain"
)

// PublishResult reports delivery stats/backpressure of a fan-out.
type PublishResult struct {
	SendTo  int
	Dropped []domain.PeerID
}

// MessageStore persists channel lists and per-channel message history.
// Writes replace the whole collection; last write wins.
type MessageStore interface {
	Channels(ctx context.Context) ([]domain.Channel, error)
	SaveChannels(ctx context.Context, chans []domain.Channel) error
	Messages(ctx context.Context, channelID string) ([]domain.ChatMessage, error)
	SaveMessages(ctx context.Context, channelID string, msgs []domain.ChatMessage) error
	DeleteMessages(ctx context.Context, channelID string) error
	Close() error
}
