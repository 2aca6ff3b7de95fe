package domain

import (
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrChannelRequired = errors.New("channel id is required")
)

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
)

type Attachment struct {
	Type AttachmentType `json:"type"`
	URL  string         `json:"url"`
	Name string         `json:"name"`
}

// ChatMessage is append-only within its channel. Edits and deletes address it by ID.
type ChatMessage struct {
	ID          string              `json:"id"`
	ChannelID   string              `json:"channelId"`
	SenderID    PeerID              `json:"userId"`
	Content     string              `json:"content"`
	Timestamp   time.Time           `json:"timestamp"`
	ReplyToID   string              `json:"replyToId,omitempty"`
	Attachments []Attachment        `json:"attachments,omitempty"`
	Reactions   map[string][]PeerID `json:"reactions,omitempty"`
	Edited      bool                `json:"isEdited,omitempty"`
	System      bool                `json:"isSystem,omitempty"`
}

// NewMessage stamps a fresh id and timestamp.
func NewMessage(channelID string, sender PeerID, content, replyTo string, attachments []Attachment) (*ChatMessage, error) {
	if channelID == "" {
		return nil, ErrChannelRequired
	}
	if content == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	return &ChatMessage{
		ID:          uuid.NewString(),
		ChannelID:   channelID,
		SenderID:    sender,
		Content:     content,
		Timestamp:   time.Now().UTC(),
		ReplyToID:   replyTo,
		Attachments: attachments,
	}, nil
}

// ToggleReaction adds who to emoji, or removes it when already present.
// Empty emoji lists are dropped. The reaction map is replaced, never
// mutated, so copies of m stay intact.
func (m *ChatMessage) ToggleReaction(emoji string, who PeerID) {
	reactions := make(map[string][]PeerID, len(m.Reactions)+1)
	maps.Copy(reactions, m.Reactions)
	m.Reactions = reactions
	users := reactions[emoji]
	next := make([]PeerID, 0, len(users)+1)
	found := false
	for _, u := range users {
		if u == who {
			found = true
			continue
		}
		next = append(next, u)
	}
	if !found {
		next = append(next, who)
	}
	if len(next) == 0 {
		delete(reactions, emoji)
		return
	}
	reactions[emoji] = next
}
