// Package chat implements the conversation session: message mapping,
// reconciliation of polled server state with optimistic local state, the
// polling loop and the session lifecycle around it.
package chat

import (
	"slices"
	"strings"

	"github.com/capitalize-ai/celia/internal/botapi"
	"github.com/capitalize-ai/celia/internal/model"
)

// ClassifySender derives the internal sender id of a backend message.
//
// The backend does not flag message origin, so a message counts as the
// user's when its raw user id contains userKey. Keys that are substrings
// of one another, or bot ids that happen to contain the key, are
// misclassified. Callers must not reimplement this check.
func ClassifySender(rawUserID, userKey string) string {
	if userKey != "" && rawUserID != "" && strings.Contains(rawUserID, userKey) {
		return model.UserSenderPrefix + rawUserID
	}
	if rawUserID == "" {
		rawUserID = model.DefaultBotID
	}
	return model.BotSenderPrefix + rawUserID
}

// InferKind picks the rendering kind from the payload. An explicit rich type
// wins, then the presence of options, then plain text.
func InferKind(p botapi.Payload) model.Kind {
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case string(model.KindChoice):
		return model.KindChoice
	case string(model.KindDropdown):
		return model.KindDropdown
	case string(model.KindImage):
		return model.KindImage
	case string(model.KindButton):
		return model.KindButton
	}
	if len(p.Options) > 0 {
		return model.KindButton
	}
	return model.KindText
}

// MapMessage converts a backend message into a Message.
func MapMessage(raw botapi.RawMessage, userKey string) model.Message {
	return model.Message{
		ID:             raw.ID,
		ConversationID: raw.ConversationID,
		SenderID:       ClassifySender(raw.UserID, userKey),
		Text:           raw.Payload.Text,
		Kind:           InferKind(raw.Payload),
		CreatedAt:      raw.CreatedAt,
		ImageURL:       raw.Payload.ImageURL,
		Options:        slices.Clone(raw.Payload.Options),
	}
}

// MapMessages converts a list of backend messages, preserving order.
func MapMessages(raws []botapi.RawMessage, userKey string) []model.Message {
	out := make([]model.Message, 0, len(raws))
	for _, raw := range raws {
		out = append(out, MapMessage(raw, userKey))
	}
	return out
}
