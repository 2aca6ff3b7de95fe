package domain

import (
	"sort"
	"strings"
)

type ChannelType string

const (
	ChannelText  ChannelType = "text"
	ChannelVoice ChannelType = "voice"
	ChannelDM    ChannelType = "dm"
)

// HomeServerID groups direct-message channels.
const HomeServerID = "home"

type Channel struct {
	ID       string      `json:"id"`
	ServerID string      `json:"serverId"`
	Name     string      `json:"name"`
	Type     ChannelType `json:"type"`
	DMUserID PeerID      `json:"dmUserId,omitempty"`
}

// DMChannelID derives the direct-message channel id for two participants.
// Both sides compute the same id without talking to each other.
func DMChannelID(a, b PeerID) string {
	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	return "dm_" + strings.Join(ids, "_")
}

// NewDMChannel builds the DM channel between self and other, named after other.
func NewDMChannel(self, other PeerID, name string) Channel {
	if name == "" {
		name = UnknownUsername
	}
	return Channel{
		ID:       DMChannelID(self, other),
		ServerID: HomeServerID,
		Name:     name,
		Type:     ChannelDM,
		DMUserID: other,
	}
}
