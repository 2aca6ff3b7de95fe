package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/spf13/afero"
	_ "modernc.org/sqlite"
)

const (
	channelsKey    = "channels"
	messagesPrefix = "messages:"
)

// SQLite stores each collection as one JSON value in a key-value table.
type SQLite struct {
	db *sql.DB
}

var _ core.MessageStore = (*SQLite)(nil)

var ErrNotOnDisk = errors.New("sqlite needs a filesystem backed by the OS")

// OpenSQLite prepares dataDir through fs, like the identity and credential
// files, then opens mesh.db inside it. The driver opens a real path, so fs
// must be the OS or a base-path view of it.
func OpenSQLite(fs afero.Fs, dataDir string) (*SQLite, error) {
	path := filepath.Join(dataDir, "mesh.db")
	switch v := fs.(type) {
	case *afero.OsFs:
	case *afero.BasePathFs:
		path = afero.FullBaseFsPath(v, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotOnDisk, fs.Name())
	}
	if err := fs.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) get(ctx context.Context, key string, dst any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Channels(ctx context.Context) ([]domain.Channel, error) {
	var out []domain.Channel
	if err := s.get(ctx, channelsKey, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) SaveChannels(ctx context.Context, chans []domain.Channel) error {
	return s.put(ctx, channelsKey, chans)
}

func (s *SQLite) Messages(ctx context.Context, channelID string) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	if err := s.get(ctx, messagesPrefix+channelID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) SaveMessages(ctx context.Context, channelID string, msgs []domain.ChatMessage) error {
	return s.put(ctx, messagesPrefix+channelID, msgs)
}

func (s *SQLite) DeleteMessages(ctx context.Context, channelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, messagesPrefix+channelID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
