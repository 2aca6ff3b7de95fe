// Package keystore is the local credential store: username -> profile and
// an Argon2id password hash. It is illustrative and gives no security guarantee.
package keystore

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/spf13/afero"
	"golang.org/x/crypto/argon2"
)

const (
	fileName       = "accounts.json"
	argonTime      = 1
	argonMemory    = 64 * 1024
	argonThreads   = 4
	argonKeyLength = 32
	saltLen        = 16
	minPasswordLen = 4
)

var (
	ErrUserExists         = errors.New("username already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrPasswordTooShort   = errors.New("password too short")
	ErrUnknownUser        = errors.New("unknown user")
)

type account struct {
	Profile domain.Profile `json:"profile"`
	Salt    string         `json:"salt"`
	Hash    string         `json:"hash"`
}

type Store struct {
	mu       sync.Mutex
	fs       afero.Fs
	path     string
	accounts map[string]account
	loaded   bool
}

func New(fs afero.Fs, dataDir string) *Store {
	return &Store{fs: fs, path: filepath.Join(dataDir, fileName)}
}

func key(username string) string { return strings.ToLower(strings.TrimSpace(username)) }

func (s *Store) load() error {
	if s.loaded {
		return nil
	}
	s.accounts = make(map[string]account)
	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read accounts: %w", err)
	}
	if err := json.Unmarshal(raw, &s.accounts); err != nil {
		return fmt.Errorf("decode accounts: %w", err)
	}
	s.loaded = true
	return nil
}

func (s *Store) persist() error {
	raw, err := json.MarshalIndent(s.accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create accounts dir: %w", err)
	}
	return afero.WriteFile(s.fs, s.path, raw, 0o600)
}

func derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLength)
}

// Register creates an account bound to the local peer id.
func (s *Store) Register(id domain.PeerID, username, password string) (domain.Profile, error) {
	p, err := domain.NewProfile(id, username)
	if err != nil {
		return domain.Profile{}, err
	}
	if len(password) < minPasswordLen {
		return domain.Profile{}, ErrPasswordTooShort
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return domain.Profile{}, err
	}
	k := key(username)
	if _, ok := s.accounts[k]; ok {
		return domain.Profile{}, ErrUserExists
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return domain.Profile{}, fmt.Errorf("generate salt: %w", err)
	}
	s.accounts[k] = account{
		Profile: *p,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Hash:    base64.StdEncoding.EncodeToString(derive(password, salt)),
	}
	if err := s.persist(); err != nil {
		delete(s.accounts, k)
		return domain.Profile{}, err
	}
	return *p, nil
}

func (s *Store) Login(username, password string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return domain.Profile{}, err
	}
	acc, ok := s.accounts[key(username)]
	if !ok {
		return domain.Profile{}, ErrInvalidCredentials
	}
	salt, err := base64.StdEncoding.DecodeString(acc.Salt)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("decode salt: %w", err)
	}
	want, err := base64.StdEncoding.DecodeString(acc.Hash)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("decode hash: %w", err)
	}
	if subtle.ConstantTimeCompare(derive(password, salt), want) != 1 {
		return domain.Profile{}, ErrInvalidCredentials
	}
	return acc.Profile, nil
}

// UpdateProfile merges u into the stored profile. A username change re-keys the account.
func (s *Store) UpdateProfile(username string, u domain.ProfileUpdate) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return domain.Profile{}, err
	}
	k := key(username)
	acc, ok := s.accounts[k]
	if !ok {
		return domain.Profile{}, ErrUnknownUser
	}
	next, err := acc.Profile.Apply(u)
	if err != nil {
		return domain.Profile{}, err
	}
	nk := key(next.Username)
	if nk != k {
		if _, taken := s.accounts[nk]; taken {
			return domain.Profile{}, ErrUserExists
		}
		delete(s.accounts, k)
	}
	acc.Profile = next
	s.accounts[nk] = acc
	if err := s.persist(); err != nil {
		return domain.Profile{}, err
	}
	return next, nil
}
