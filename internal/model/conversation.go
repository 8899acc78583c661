package model

import (
	"time"
)

// SavedAtLayout formats the human-readable SavedAt field.
const SavedAtLayout = "Jan 2, 2006 15:04"

// SavedConversation is an immutable snapshot of a conversation in the history store.
type SavedConversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	SavedAt        string    `json:"saved_at"`
	Messages       []Message `json:"messages"`
	UserKey        string    `json:"user_key"`
	ConversationID string    `json:"conversation_id"`

	// CreatedAt is set by the store and drives retention expiry.
	CreatedAt time.Time `json:"created_at"`
}

// SaveConversationRequest is the request to save the live conversation.
type SaveConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// ListSavedConversationsResponse is the response for listing saved conversations.
type ListSavedConversationsResponse struct {
	Conversations []SavedConversation `json:"conversations"`
	Total         int                 `json:"total"`
}
