// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxPeerIDLen   = 64
	MaxUsernameLen = 36

	// UnknownUsername is shown for peers whose handshake has not arrived yet.
	UnknownUsername = "Unknown User"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrPeerIDEmpty     = errors.New("peer id empty")
	ErrPeerIDTooLong   = errors.New("peer id too long")
	ErrUnknownStatus   = errors.New("unknown presence status")
)

// PeerID is the stable mesh address of one installation.
type PeerID string

func (p PeerID) Validate() error {
	if p == "" {
		return ErrPeerIDEmpty
	}
	if len(p) > MaxPeerIDLen {
		return ErrPeerIDTooLong
	}
	return nil
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusIdle    PresenceStatus = "idle"
	StatusDND     PresenceStatus = "dnd"
	StatusOffline PresenceStatus = "offline"
)

func (s PresenceStatus) Validate() error {
	switch s {
	case StatusOnline, StatusIdle, StatusDND, StatusOffline:
		return nil
	}
	return ErrUnknownStatus
}

// Profile is what a peer announces about itself in the handshake.
type Profile struct {
	ID          PeerID         `json:"id"`
	Username    string         `json:"username"`
	AvatarURL   string         `json:"avatarUrl,omitempty"`
	Status      PresenceStatus `json:"status,omitempty"`
	AboutMe     string         `json:"aboutMe,omitempty"`
	BannerColor string         `json:"bannerColor,omitempty"`
}

// NewProfile is a tiny helper to avoid ad-hoc struct literals in adapters.
// An empty id gets a fresh random one.
func NewProfile(id PeerID, username string) (*Profile, error) {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	if id == "" {
		id = PeerID(uuid.NewString())
	}
	return &Profile{
		ID:        id,
		Username:  username,
		AvatarURL: "https://api.dicebear.com/7.x/avataaars/svg?seed=" + username,
		Status:    StatusOnline,
	}, nil
}

func (p *Profile) SetUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	p.Username = username
	return nil
}

// ProfileUpdate carries the editable subset of a profile. Nil fields are kept.
type ProfileUpdate struct {
	Username    *string         `json:"username,omitempty"`
	AvatarURL   *string         `json:"avatarUrl,omitempty"`
	AboutMe     *string         `json:"aboutMe,omitempty"`
	BannerColor *string         `json:"bannerColor,omitempty"`
	Status      *PresenceStatus `json:"status,omitempty"`
}

// Apply returns a copy of p with the update merged in.
func (p Profile) Apply(u ProfileUpdate) (Profile, error) {
	if u.Username != nil {
		if err := p.SetUsername(*u.Username); err != nil {
			return p, err
		}
	}
	if u.AvatarURL != nil {
		p.AvatarURL = *u.AvatarURL
	}
	if u.AboutMe != nil {
		p.AboutMe = *u.AboutMe
	}
	if u.BannerColor != nil {
		p.BannerColor = *u.BannerColor
	}
	if u.Status != nil {
		if err := u.Status.Validate(); err != nil {
			return p, err
		}
		p.Status = *u.Status
	}
	return p, nil
}
