package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/internal/model"
	"github.com/capitalize-ai/celia/pkg/logger"
	"github.com/capitalize-ai/celia/pkg/metrics"
)

const (
	titlePrompt = "You name chat transcripts. Reply with a short title of at most six words " +
		"describing what the user wanted. No quotes, no punctuation at the end."
	titleMaxMessages = 12
	titleMaxRunes    = 60
)

// ErrEmptyTitle is returned when the model produced no usable title.
var ErrEmptyTitle = errors.New("llm: empty title")

// TitleGenerator names saved conversations with an LLM.
type TitleGenerator struct {
	client Client
	model  string
	log    *logger.Logger
}

// NewTitleGenerator creates a title generator. An empty model selects the
// provider default.
func NewTitleGenerator(client Client, model string, log *logger.Logger) *TitleGenerator {
	if log == nil {
		log = logger.Global()
	}
	return &TitleGenerator{
		client: client,
		model:  model,
		log:    log.Component("llm.title"),
	}
}

// GenerateTitle summarises msgs into a short title.
func (g *TitleGenerator) GenerateTitle(ctx context.Context, msgs []model.Message) (string, error) {
	transcript := Transcript(msgs, titleMaxMessages)
	if transcript == "" {
		return "", ErrEmptyTitle
	}

	resp, err := g.client.Complete(ctx, &CompletionRequest{
		Model:       g.model,
		System:      titlePrompt,
		Messages:    []ChatMessage{{Role: "user", Content: transcript}},
		MaxTokens:   32,
		Temperature: 0.2,
	})
	if err != nil {
		metrics.RecordTitleGeneration(g.client.Name(), err)
		return "", fmt.Errorf("generate title: %w", err)
	}

	title := CleanTitle(resp.Content)
	if title == "" {
		metrics.RecordTitleGeneration(g.client.Name(), ErrEmptyTitle)
		return "", ErrEmptyTitle
	}
	metrics.RecordTitleGeneration(g.client.Name(), nil)

	g.log.Debug("title generated",
		zap.String("provider", g.client.Name()),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return title, nil
}

// Transcript renders up to limit text messages as "User:"/"Bot:" lines.
func Transcript(msgs []model.Message, limit int) string {
	var b strings.Builder
	n := 0
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		if n == limit {
			break
		}
		speaker := "Bot"
		if m.IsFromUser() {
			speaker = "User"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, text)
		n++
	}
	return strings.TrimSpace(b.String())
}

// CleanTitle keeps the first line of a model reply, strips wrapping quotes
// and trailing punctuation, and caps its length.
func CleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "Title:")
	s = strings.Trim(strings.TrimSpace(s), "\"'`*")
	s = strings.TrimRight(strings.TrimSpace(s), ".!")

	if r := []rune(s); len(r) > titleMaxRunes {
		s = strings.TrimSpace(string(r[:titleMaxRunes]))
	}
	return s
}
