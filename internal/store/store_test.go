package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, s core.MessageStore) {
	ctx := context.Background()

	chans, err := s.Channels(ctx)
	require.NoError(t, err)
	assert.Empty(t, chans)

	dm := domain.NewDMChannel("user_a", "user_b", "bob")
	require.NoError(t, s.SaveChannels(ctx, []domain.Channel{dm}))
	chans, err = s.Channels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Channel{dm}, chans)

	msg := domain.ChatMessage{ID: "m1", ChannelID: dm.ID, SenderID: "user_a", Content: "hi", Timestamp: time.Unix(100, 0).UTC()}
	require.NoError(t, s.SaveMessages(ctx, dm.ID, []domain.ChatMessage{msg}))
	msgs, err := s.Messages(ctx, dm.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)

	// whole-collection overwrite
	require.NoError(t, s.SaveMessages(ctx, dm.ID, nil))
	msgs, err = s.Messages(ctx, dm.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, s.SaveMessages(ctx, dm.ID, []domain.ChatMessage{msg}))
	require.NoError(t, s.DeleteMessages(ctx, dm.ID))
	msgs, err = s.Messages(ctx, dm.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(afero.NewOsFs(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exercise(t, s)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSQLite(afero.NewOsFs(), dir)
	require.NoError(t, err)
	ch := domain.Channel{ID: "c1", Name: "general", Type: domain.ChannelText}
	require.NoError(t, s.SaveChannels(context.Background(), []domain.Channel{ch}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(afero.NewOsFs(), dir)
	require.NoError(t, err)
	defer s.Close()
	chans, err := s.Channels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Channel{ch}, chans)
}

func TestSQLiteInsideBasePath(t *testing.T) {
	base := t.TempDir()
	fs := afero.NewBasePathFs(afero.NewOsFs(), base)
	s, err := OpenSQLite(fs, "/data")
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(base, "data", "mesh.db"))
	assert.NoError(t, err)
}

func TestSQLiteRefusesMemoryFs(t *testing.T) {
	_, err := OpenSQLite(afero.NewMemMapFs(), "/data")
	assert.ErrorIs(t, err, ErrNotOnDisk)
}
