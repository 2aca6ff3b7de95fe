// Package identity owns the local participant's stable PeerID.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	fileName = "peer_id"
	prefix   = "user_"
	alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	idLen    = 9
)

var ErrCorruptID = errors.New("stored peer id is invalid")

type Manager struct {
	fs  afero.Fs
	dir string
}

func NewManager(fs afero.Fs, dataDir string) *Manager {
	return &Manager{fs: fs, dir: dataDir}
}

func (m *Manager) path() string { return filepath.Join(m.dir, fileName) }

// Load returns the persisted id, creating and persisting one on first run.
func (m *Manager) Load() (domain.PeerID, error) {
	raw, err := afero.ReadFile(m.fs, m.path())
	switch {
	case err == nil:
		id := domain.PeerID(strings.TrimSpace(string(raw)))
		if err := id.Validate(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrCorruptID, err)
		}
		return id, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("read peer id: %w", err)
	}

	id, err := Generate()
	if err != nil {
		return "", err
	}
	if err := m.fs.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := afero.WriteFile(m.fs, m.path(), []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("persist peer id: %w", err)
	}
	log.Info().Str("module", "identity").Str("peer", string(id)).Msg("generated new peer id")
	return id, nil
}

// Generate makes a fresh "user_" id with nine lowercase alphanumerics.
func Generate() (domain.PeerID, error) {
	buf := make([]byte, idLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate peer id: %w", err)
	}
	out := make([]byte, idLen)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return domain.PeerID(prefix + string(out)), nil
}
