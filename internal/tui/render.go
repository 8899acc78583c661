package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/capitalize-ai/celia/internal/chat"
	"github.com/capitalize-ai/celia/internal/model"
)

type styles struct {
	user     lipgloss.Style
	bot      lipgloss.Style
	link     lipgloss.Style
	option   lipgloss.Style
	answered lipgloss.Style
	status   lipgloss.Style
	errText  lipgloss.Style
	title    lipgloss.Style
	pending  lipgloss.Style

	// markdown renders bot text; nil leaves it plain.
	markdown *glamour.TermRenderer
}

// newMarkdown builds a renderer for bot text. style is a glamour style
// name ("auto", "dark", "light", "notty") or a JSON style file path.
func newMarkdown(style string, width int) (*glamour.TermRenderer, error) {
	if style == "" {
		style = "auto"
	}
	return glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(bubbleWidth(width)-6),
	)
}

func defaultStyles() styles {
	bubble := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1)

	return styles{
		user:     bubble.BorderForeground(lipgloss.Color("12")),
		bot:      bubble.BorderForeground(lipgloss.Color("8")),
		link:     lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Underline(true),
		option:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		answered: lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Strikethrough(true),
		status:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true),
		errText:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		title:    lipgloss.NewStyle().Bold(true),
		pending:  lipgloss.NewStyle().Faint(true),
	}
}

// bubbleWidth leaves room on the opposite side so speakers stay apart.
func bubbleWidth(width int) int {
	w := width * 3 / 4
	if w < 20 {
		w = 20
	}
	return w
}

// renderMessages draws the conversation, user messages on the right.
func renderMessages(msgs []model.Message, width int, st styles) string {
	if len(msgs) == 0 {
		return st.status.Render("No messages yet. Say hello!")
	}

	blocks := make([]string, 0, len(msgs))
	for _, m := range msgs {
		body := renderBody(m, st)
		style := st.bot
		if m.IsFromUser() {
			style = st.user
			if m.IsTemp() {
				body = st.pending.Render(body)
			}
		}
		// Long bodies wrap inside the bubble; short ones keep their width.
		if limit := bubbleWidth(width) - 4; lipgloss.Width(body) > limit {
			style = style.Width(limit)
		}
		bubble := style.Render(body)
		if m.IsFromUser() {
			bubble = lipgloss.PlaceHorizontal(width, lipgloss.Right, bubble)
		}
		blocks = append(blocks, bubble)
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

func renderBody(m model.Message, st styles) string {
	var b strings.Builder

	switch m.Kind {
	case model.KindImage:
		b.WriteString("[image] " + st.link.Render(m.ImageURL))
		if m.Text != "" {
			b.WriteString("\n")
		}
	}
	b.WriteString(renderText(m, st))

	if m.HasOptions() {
		for i, opt := range m.Options {
			line := fmt.Sprintf("%d) %s", i+1, opt.Label)
			if m.Interacted {
				b.WriteString("\n" + st.answered.Render(line))
			} else {
				b.WriteString("\n" + st.option.Render(line))
			}
		}
	}
	return b.String()
}

func renderText(m model.Message, st styles) string {
	if m.IsFromUser() || st.markdown == nil || m.Text == "" {
		return renderLinks(m.Text, st)
	}
	out, err := st.markdown.Render(chat.FormatLinks(m.Text))
	if err != nil {
		return renderLinks(m.Text, st)
	}
	return strings.Trim(out, "\n")
}

func renderLinks(text string, st styles) string {
	return chat.ReplaceLinks(text, func(l chat.Link) string {
		if l.Label == l.URL {
			return st.link.Render(l.URL)
		}
		return st.link.Render(l.Label) + " <" + l.URL + ">"
	})
}

// renderSaved lists saved conversations with 1-based positions.
func renderSaved(list []model.SavedConversation, st styles) string {
	if len(list) == 0 {
		return st.status.Render("No saved conversations.")
	}
	var b strings.Builder
	b.WriteString(st.title.Render("Saved conversations") + "\n")
	for i, rec := range list {
		fmt.Fprintf(&b, "%2d. %s  %s (%d messages)\n", i+1, rec.Title, st.status.Render(rec.SavedAt), len(rec.Messages))
	}
	b.WriteString(st.status.Render("/load N to resume, /delete N to remove"))
	return b.String()
}

// latestPrompt returns the newest bot message whose options are still open.
func latestPrompt(msgs []model.Message) (model.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if !m.IsFromUser() && m.HasOptions() && !m.Interacted {
			return m, true
		}
	}
	return model.Message{}, false
}
