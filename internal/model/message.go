// Package model defines data structures for the chat client.
package model

import (
	"slices"
	"strings"
)

// Kind is the rendering kind of a message.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindButton   Kind = "button"
	KindDropdown Kind = "dropdown"
	KindChoice   Kind = "choice"
)

// Identifier prefixes.
const (
	// TempIDPrefix marks locally created messages awaiting server confirmation.
	TempIDPrefix = "temp_"
	// UserSenderPrefix marks messages written by the human user.
	UserSenderPrefix = "user_"
	// BotSenderPrefix marks messages written by the bot.
	BotSenderPrefix = "bot_"
	// DefaultBotID is used when the backend omits the sender of a bot message.
	DefaultBotID = "botpress"
)

// Option is one selectable choice attached to a message.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Message represents one chat turn.
type Message struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	SenderID       string   `json:"sender_id"`
	Text           string   `json:"text,omitempty"`
	Kind           Kind     `json:"kind"`
	CreatedAt      string   `json:"created_at"`
	ImageURL       string   `json:"image_url,omitempty"`
	Options        []Option `json:"options,omitempty"`

	// Interacted is local UI state; once true it stays true.
	Interacted bool `json:"interacted"`
}

// IsTemp reports whether the message is an unconfirmed local copy.
func (m Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// IsFromUser reports whether the human user sent the message.
func (m Message) IsFromUser() bool {
	return strings.HasPrefix(m.SenderID, UserSenderPrefix)
}

// HasOptions reports whether the message carries selectable options.
func (m Message) HasOptions() bool {
	return len(m.Options) > 0
}

// Equal reports whether two messages are identical field by field.
func (m Message) Equal(o Message) bool {
	return m.ID == o.ID &&
		m.ConversationID == o.ConversationID &&
		m.SenderID == o.SenderID &&
		m.Text == o.Text &&
		m.Kind == o.Kind &&
		m.CreatedAt == o.CreatedAt &&
		m.ImageURL == o.ImageURL &&
		m.Interacted == o.Interacted &&
		slices.Equal(m.Options, o.Options)
}

// CloneMessages returns a deep copy of msgs so callers cannot alias
// session-owned slices.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		m.Options = slices.Clone(m.Options)
		out[i] = m
	}
	return out
}

// EqualMessages reports whether two lists hold the same messages in the same order.
func EqualMessages(a, b []Message) bool {
	return slices.EqualFunc(a, b, Message.Equal)
}

// SendMessageRequest is the request to send a chat message.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SetInputRequest updates the pending draft.
type SetInputRequest struct {
	Text string `json:"text"`
}
