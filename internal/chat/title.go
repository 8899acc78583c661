package chat

import (
	"context"
	"strings"
	"time"

	"github.com/capitalize-ai/celia/internal/model"
)

const maxTitleRunes = 20

// TitleGenerator proposes a title for a conversation transcript.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, msgs []model.Message) (string, error)
}

// DefaultTitle derives a title from the first user message, truncated to
// 20 characters, or falls back to "Conversation <date>".
func DefaultTitle(msgs []model.Message, now time.Time) string {
	for _, m := range msgs {
		if !m.IsFromUser() {
			continue
		}
		text := strings.TrimSpace(m.Text)
		if text == "" {
			break
		}
		runes := []rune(text)
		if len(runes) > maxTitleRunes {
			return string(runes[:maxTitleRunes]) + "..."
		}
		return text
	}
	return "Conversation " + now.Format(model.SavedAtLayout)
}
