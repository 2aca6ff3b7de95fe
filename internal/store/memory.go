// Package store keeps channel lists and message history. The whole
// collection is replaced on every write; last write wins.
package store

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

type Memory struct {
	mu       sync.RWMutex
	channels []domain.Channel
	messages map[string][]domain.ChatMessage
}

var _ core.MessageStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{messages: make(map[string][]domain.ChatMessage)}
}

func (m *Memory) Channels(context.Context) ([]domain.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.channels), nil
}

func (m *Memory) SaveChannels(_ context.Context, chans []domain.Channel) error {
	m.mu.Lock()
	m.channels = slices.Clone(chans)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Messages(_ context.Context, channelID string) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.messages[channelID]), nil
}

func (m *Memory) SaveMessages(_ context.Context, channelID string, msgs []domain.ChatMessage) error {
	m.mu.Lock()
	m.messages[channelID] = slices.Clone(msgs)
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteMessages(_ context.Context, channelID string) error {
	m.mu.Lock()
	delete(m.messages, channelID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
