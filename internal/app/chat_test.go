package app

import (
	"context"
	"testing"

	"github.com/dkeye/Mesh/internal/core/fake"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/dkeye/Mesh/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatEnv struct {
	chat  *Chat
	reg   *Registry
	peers *PeerTable
	store *store.Memory
}

func newChatEnv() chatEnv {
	bus := NewBus()
	reg := NewRegistry(nil, nil)
	peers := NewPeerTable(bus)
	st := store.NewMemory()
	return chatEnv{chat: NewChat("user_a", st, reg, peers, bus, nil), reg: reg, peers: peers, store: st}
}

func TestSendMessageStoresAndBroadcasts(t *testing.T) {
	env := newChatEnv()
	ctx := context.Background()
	_, err := env.chat.SendMessage(ctx, "hi", "", nil)
	assert.ErrorIs(t, err, ErrNoActiveChannel)

	b := openChannel("user_b")
	env.reg.Register("user_b", b)
	env.chat.SetActiveChannel("general")

	msg, err := env.chat.SendMessage(ctx, "hi", "", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PeerID("user_a"), msg.SenderID)

	stored, err := env.chat.Messages(ctx, "")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)

	require.Len(t, b.Sent(), 1)
	wire, err := protocol.Decode(b.Sent()[0])
	require.NoError(t, err)
	assert.Equal(t, msg.ID, wire.Message.ID)
}

func TestReceiveDuplicateStoredOnce(t *testing.T) {
	env := newChatEnv()
	ctx := context.Background()
	msg := domain.ChatMessage{ID: "m1", ChannelID: "general", SenderID: "user_b", Content: "x"}
	require.NoError(t, env.store.SaveChannels(ctx, []domain.Channel{{ID: "general", Type: domain.ChannelText}}))

	require.NoError(t, env.chat.ReceiveMessage(ctx, msg, "user_b"))
	require.NoError(t, env.chat.ReceiveMessage(ctx, msg, "user_b"))

	msgs, err := env.chat.Messages(ctx, "general")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestReceiveUnknownChannelSynthesizesDM(t *testing.T) {
	env := newChatEnv()
	ctx := context.Background()
	require.NoError(t, env.store.SaveChannels(ctx, []domain.Channel{{ID: "old", Type: domain.ChannelDM}}))
	env.peers.SetProfile("user_b", domain.Profile{ID: "user_b", Username: "Bob"})
	dmID := domain.DMChannelID("user_a", "user_b")

	msg := domain.ChatMessage{ID: "m1", ChannelID: dmID, SenderID: "user_b", Content: "hey"}
	require.NoError(t, env.chat.ReceiveMessage(ctx, msg, "user_b"))
	require.NoError(t, env.chat.ReceiveMessage(ctx, domain.ChatMessage{ID: "m2", ChannelID: dmID, SenderID: "user_b", Content: "again"}, "user_b"))

	chans, err := env.chat.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, chans, 2)
	assert.Equal(t, dmID, chans[0].ID, "new DM is prepended")
	assert.Equal(t, domain.ChannelDM, chans[0].Type)
	assert.Equal(t, "Bob", chans[0].Name)
	assert.Equal(t, domain.PeerID("user_b"), chans[0].DMUserID)

	msgs, err := env.chat.Messages(ctx, dmID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestReceiveFromUnknownPeerUsesPlaceholder(t *testing.T) {
	env := newChatEnv()
	ctx := context.Background()
	require.NoError(t, env.chat.ReceiveMessage(ctx, domain.ChatMessage{ID: "m", ChannelID: "dm_x_y", SenderID: "user_x"}, "user_x"))
	chans, _ := env.chat.Channels(ctx)
	require.Len(t, chans, 1)
	assert.Equal(t, domain.UnknownUsername, chans[0].Name)
}

func TestEditDeleteReactStayLocal(t *testing.T) {
	env := newChatEnv()
	ctx := context.Background()
	b := openChannel("user_b")
	env.reg.Register("user_b", b)
	env.chat.SetActiveChannel("general")
	msg, err := env.chat.SendMessage(ctx, "first", "", nil)
	require.NoError(t, err)

	require.NoError(t, env.chat.EditMessage(ctx, "", msg.ID, "edited"))
	require.NoError(t, env.chat.ToggleReaction(ctx, "general", msg.ID, "🔥"))
	msgs, _ := env.chat.Messages(ctx, "general")
	require.Len(t, msgs, 1)
	assert.Equal(t, "edited", msgs[0].Content)
	assert.True(t, msgs[0].Edited)
	assert.Equal(t, []domain.PeerID{"user_a"}, msgs[0].Reactions["🔥"])

	require.NoError(t, env.chat.ToggleReaction(ctx, "general", msg.ID, "🔥"))
	msgs, _ = env.chat.Messages(ctx, "general")
	assert.Empty(t, msgs[0].Reactions)

	assert.ErrorIs(t, env.chat.EditMessage(ctx, "", "nope", "x"), ErrMessageNotFound)
	require.NoError(t, env.chat.DeleteMessage(ctx, "", msg.ID))
	msgs, _ = env.chat.Messages(ctx, "general")
	assert.Empty(t, msgs)

	assert.Len(t, b.Sent(), 1, "only the original send goes on the wire")
}

func TestOpenDMAndDeleteChat(t *testing.T) {
	env := newChatEnv()
	ctx := context.Background()

	_, err := env.chat.OpenDM(ctx, "user_a")
	assert.ErrorIs(t, err, ErrSelfDM)

	c1, err := env.chat.OpenDM(ctx, "user_b")
	require.NoError(t, err)
	assert.Equal(t, domain.DMChannelID("user_a", "user_b"), c1.ID)
	c2, err := env.chat.OpenDM(ctx, "user_c")
	require.NoError(t, err)
	again, err := env.chat.OpenDM(ctx, "user_b")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, again.ID)

	chans, _ := env.chat.Channels(ctx)
	assert.Len(t, chans, 2)
	assert.Equal(t, c1.ID, env.chat.ActiveChannel())

	require.NoError(t, env.chat.DeleteChat(ctx, c1.ID))
	assert.Equal(t, c2.ID, env.chat.ActiveChannel())
	require.NoError(t, env.chat.DeleteChat(ctx, c2.ID))
	assert.Equal(t, "", env.chat.ActiveChannel())
	assert.ErrorIs(t, env.chat.DeleteChat(ctx, c2.ID), ErrChannelNotFound)
}

func TestChatThroughHandshake(t *testing.T) {
	env := newChatEnv()
	h := NewHandshaker(env.reg, env.peers, nil)
	h.Bind(nil, nil, env.chat)
	dc := fake.NewDataChannel("user_b")
	h.Attach(dc)
	dc.Open()

	f, _ := protocol.Message(domain.ChatMessage{ID: "m1", ChannelID: "dm_user_a_user_b", SenderID: "user_b", Content: "hello"})
	dc.Receive(f)
	dc.Receive(f)

	msgs, err := env.chat.Messages(context.Background(), "dm_user_a_user_b")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
