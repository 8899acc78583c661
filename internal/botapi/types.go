// Package botapi is a typed client for the hosted bot backend REST API.
package botapi

import (
	"github.com/capitalize-ai/celia/internal/model"
)

// User is the anonymous chat participant created on the backend.
type User struct {
	// Key authenticates subsequent calls via the X-User-Key header.
	Key string
	// RemoteID is the backend's user id.
	RemoteID  string
	CreatedAt string
}

// Conversation is a backend conversation.
type Conversation struct {
	ID        string
	CreatedAt string
}

// Payload is the content of a backend message.
type Payload struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL string         `json:"imageUrl,omitempty"`
	Options  []model.Option `json:"options,omitempty"`
}

// RawMessage is a message as returned by the backend.
type RawMessage struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversationId"`
	UserID         string   `json:"userId,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Payload        Payload  `json:"payload"`
	CreatedAt      string   `json:"createdAt"`
	UpdatedAt      string   `json:"updatedAt,omitempty"`
}

type createUserRequest struct {
	Name     string            `json:"name"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type createUserResponse struct {
	User *struct {
		ID        string `json:"id"`
		CreatedAt string `json:"createdAt"`
		UpdatedAt string `json:"updatedAt"`
	} `json:"user"`
	Key     string `json:"key"`
	ID      string `json:"id"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type createConversationRequest struct {
	Metadata map[string]string `json:"metadata"`
}

type createConversationResponse struct {
	Conversation *struct {
		ID        string `json:"id"`
		CreatedAt string `json:"createdAt"`
		UpdatedAt string `json:"updatedAt"`
	} `json:"conversation"`
}

type sendMessageRequest struct {
	Payload        Payload `json:"payload"`
	ConversationID string  `json:"conversationId"`
}

type sendMessageResponse struct {
	Message *RawMessage `json:"message"`
	Error   string      `json:"error"`
	Code    int         `json:"code"`
}

type listMessagesResponse struct {
	Messages *[]RawMessage  `json:"messages"`
	Meta     map[string]any `json:"meta"`
}
