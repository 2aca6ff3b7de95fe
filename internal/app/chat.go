package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/metrics"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoActiveChannel = errors.New("no active channel")
	ErrMessageNotFound = errors.New("message not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrSelfDM          = errors.New("cannot open a direct message with yourself")
)

// Chat relays chat messages over the mesh and reconciles them into the store.
type Chat struct {
	mu     sync.Mutex
	self   domain.PeerID
	store  core.MessageStore
	reg    *Registry
	peers  *PeerTable
	bus    *Bus
	m      *metrics.Collector
	active string
}

func NewChat(self domain.PeerID, store core.MessageStore, reg *Registry, peers *PeerTable, bus *Bus, m *metrics.Collector) *Chat {
	return &Chat{self: self, store: store, reg: reg, peers: peers, bus: bus, m: m}
}

func (c *Chat) SetActiveChannel(id string) {
	c.mu.Lock()
	c.active = id
	c.mu.Unlock()
}

func (c *Chat) ActiveChannel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SendMessage stores a new message under the active channel and broadcasts it.
func (c *Chat) SendMessage(ctx context.Context, text, replyID string, attachments []domain.Attachment) (domain.ChatMessage, error) {
	c.mu.Lock()
	if c.active == "" {
		c.mu.Unlock()
		return domain.ChatMessage{}, ErrNoActiveChannel
	}
	msg, err := domain.NewMessage(c.active, c.self, text, replyID, attachments)
	if err != nil {
		c.mu.Unlock()
		return domain.ChatMessage{}, err
	}
	err = c.appendLocked(ctx, *msg)
	c.mu.Unlock()
	if err != nil {
		return domain.ChatMessage{}, err
	}

	f, err := protocol.Message(*msg)
	if err != nil {
		return *msg, err
	}
	res := c.reg.Broadcast(f)
	c.m.MessageSent()
	c.bus.Publish(Event{Type: EventMessage, Peer: c.self, Data: *msg})
	log.Debug().Str("module", "chat").Str("channel", msg.ChannelID).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("message sent")
	return *msg, nil
}

func (c *Chat) appendLocked(ctx context.Context, msg domain.ChatMessage) error {
	msgs, err := c.store.Messages(ctx, msg.ChannelID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	return c.store.SaveMessages(ctx, msg.ChannelID, append(msgs, msg))
}

// ReceiveMessage appends msg from a peer. Unknown channels become DMs;
// a message id already present is ignored.
func (c *Chat) ReceiveMessage(ctx context.Context, msg domain.ChatMessage, from domain.PeerID) error {
	c.mu.Lock()
	created, err := c.ensureChannelLocked(ctx, domain.Channel{
		ID:       msg.ChannelID,
		ServerID: domain.HomeServerID,
		Name:     c.peers.DisplayName(from),
		Type:     domain.ChannelDM,
		DMUserID: msg.SenderID,
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	msgs, err := c.store.Messages(ctx, msg.ChannelID)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("load messages: %w", err)
	}
	dup := slices.ContainsFunc(msgs, func(m domain.ChatMessage) bool { return m.ID == msg.ID })
	if !dup {
		err = c.store.SaveMessages(ctx, msg.ChannelID, append(msgs, msg))
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save messages: %w", err)
	}

	if created {
		c.publishChannels(ctx)
	}
	if dup {
		log.Debug().Str("module", "chat").Str("peer", string(from)).Str("id", msg.ID).Msg("duplicate message ignored")
		return nil
	}
	c.m.MessageReceived()
	c.bus.Publish(Event{Type: EventMessage, Peer: from, Data: msg})
	return nil
}

// ensureChannelLocked prepends ch when its id is not listed yet.
func (c *Chat) ensureChannelLocked(ctx context.Context, ch domain.Channel) (bool, error) {
	chans, err := c.store.Channels(ctx)
	if err != nil {
		return false, fmt.Errorf("load channels: %w", err)
	}
	if slices.ContainsFunc(chans, func(x domain.Channel) bool { return x.ID == ch.ID }) {
		return false, nil
	}
	if err := c.store.SaveChannels(ctx, append([]domain.Channel{ch}, chans...)); err != nil {
		return false, fmt.Errorf("save channels: %w", err)
	}
	log.Info().Str("module", "chat").Str("channel", ch.ID).Str("name", ch.Name).Msg("channel created")
	return true, nil
}

// EnsureDM makes sure the deterministic DM channel with peer exists.
// An empty name falls back to the best-known display name.
func (c *Chat) EnsureDM(ctx context.Context, peer domain.PeerID, name string) (domain.Channel, error) {
	if peer == c.self {
		return domain.Channel{}, ErrSelfDM
	}
	if name == "" {
		name = c.peers.DisplayName(peer)
	}
	ch := domain.NewDMChannel(c.self, peer, name)
	c.mu.Lock()
	created, err := c.ensureChannelLocked(ctx, ch)
	c.mu.Unlock()
	if err != nil {
		return domain.Channel{}, err
	}
	if created {
		c.publishChannels(ctx)
	}
	return ch, nil
}

// OpenDM ensures the DM channel with peer and makes it active.
func (c *Chat) OpenDM(ctx context.Context, peer domain.PeerID) (domain.Channel, error) {
	ch, err := c.EnsureDM(ctx, peer, "")
	if err != nil {
		return domain.Channel{}, err
	}
	c.SetActiveChannel(ch.ID)
	return ch, nil
}

// DeleteChat removes a channel and its history. If it was active, the
// first remaining DM becomes active, or none.
func (c *Chat) DeleteChat(ctx context.Context, channelID string) error {
	c.mu.Lock()
	chans, err := c.store.Channels(ctx)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("load channels: %w", err)
	}
	idx := slices.IndexFunc(chans, func(x domain.Channel) bool { return x.ID == channelID })
	if idx < 0 {
		c.mu.Unlock()
		return ErrChannelNotFound
	}
	chans = slices.Delete(chans, idx, idx+1)
	if err := c.store.SaveChannels(ctx, chans); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("save channels: %w", err)
	}
	if err := c.store.DeleteMessages(ctx, channelID); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("delete messages: %w", err)
	}
	if c.active == channelID {
		c.active = ""
		for _, ch := range chans {
			if ch.Type == domain.ChannelDM {
				c.active = ch.ID
				break
			}
		}
	}
	c.mu.Unlock()
	c.publishChannels(ctx)
	return nil
}

// mutate rewrites one message in channelID. Changes stay local.
func (c *Chat) mutate(ctx context.Context, channelID, id string, fn func(msgs []domain.ChatMessage, i int) []domain.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if channelID == "" {
		channelID = c.active
	}
	msgs, err := c.store.Messages(ctx, channelID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	i := slices.IndexFunc(msgs, func(m domain.ChatMessage) bool { return m.ID == id })
	if i < 0 {
		return ErrMessageNotFound
	}
	return c.store.SaveMessages(ctx, channelID, fn(msgs, i))
}

// EditMessage replaces the content and flags the message edited. An empty
// channelID means the active channel.
func (c *Chat) EditMessage(ctx context.Context, channelID, id, text string) error {
	if text == "" {
		return domain.ErrEmptyMessage
	}
	return c.mutate(ctx, channelID, id, func(msgs []domain.ChatMessage, i int) []domain.ChatMessage {
		msgs[i].Content = text
		msgs[i].Edited = true
		return msgs
	})
}

func (c *Chat) DeleteMessage(ctx context.Context, channelID, id string) error {
	return c.mutate(ctx, channelID, id, func(msgs []domain.ChatMessage, i int) []domain.ChatMessage {
		return slices.Delete(msgs, i, i+1)
	})
}

// ToggleReaction adds or removes the local user under emoji.
func (c *Chat) ToggleReaction(ctx context.Context, channelID, id, emoji string) error {
	return c.mutate(ctx, channelID, id, func(msgs []domain.ChatMessage, i int) []domain.ChatMessage {
		msgs[i].ToggleReaction(emoji, c.self)
		return msgs
	})
}

func (c *Chat) Channels(ctx context.Context) ([]domain.Channel, error) {
	return c.store.Channels(ctx)
}

// Messages returns the history of channelID, or of the active channel when empty.
func (c *Chat) Messages(ctx context.Context, channelID string) ([]domain.ChatMessage, error) {
	if channelID == "" {
		channelID = c.ActiveChannel()
	}
	if channelID == "" {
		return nil, ErrNoActiveChannel
	}
	return c.store.Messages(ctx, channelID)
}

func (c *Chat) publishChannels(ctx context.Context) {
	chans, err := c.store.Channels(ctx)
	if err != nil {
		return
	}
	c.bus.Publish(Event{Type: EventChannels, Data: chans})
}
