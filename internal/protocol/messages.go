// Package protocol defines the frames exchanged over peer data channels.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

type MessageType string

const (
	TypeHandshake    MessageType = "handshake"
	TypeStatusUpdate MessageType = "status_update"
	TypeMessage      MessageType = "message"
)

var ErrMalformed = errors.New("malformed frame")

// Envelope is the tagged union on the wire. Exactly one payload field is set.
type Envelope struct {
	Type    MessageType         `json:"type"`
	User    *domain.Profile     `json:"user,omitempty"`
	Status  *domain.CallStatus  `json:"status,omitempty"`
	Message *domain.ChatMessage `json:"message,omitempty"`
}

func Handshake(p domain.Profile) (core.Frame, error) {
	return encode(Envelope{Type: TypeHandshake, User: &p})
}

func StatusUpdate(s domain.CallStatus) (core.Frame, error) {
	return encode(Envelope{Type: TypeStatusUpdate, Status: &s})
}

func Message(m domain.ChatMessage) (core.Frame, error) {
	return encode(Envelope{Type: TypeMessage, Message: &m})
}

func encode(env Envelope) (core.Frame, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return b, nil
}

// Decode parses and validates a frame. Anything it cannot trust is ErrMalformed.
func Decode(f core.Frame) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Type {
	case TypeHandshake:
		if env.User == nil || env.User.ID == "" {
			return Envelope{}, fmt.Errorf("%w: handshake without user", ErrMalformed)
		}
	case TypeStatusUpdate:
		if env.Status == nil {
			return Envelope{}, fmt.Errorf("%w: status_update without status", ErrMalformed)
		}
	case TypeMessage:
		if env.Message == nil || env.Message.ID == "" || env.Message.ChannelID == "" {
			return Envelope{}, fmt.Errorf("%w: message without id or channel", ErrMalformed)
		}
	default:
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	return env, nil
}
