// Package tui is the terminal chat screen.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/capitalize-ai/celia/internal/chat"
	"github.com/capitalize-ai/celia/internal/model"
)

type snapshotMsg model.SessionView

type savedListMsg []model.SavedConversation

type resultMsg struct {
	notice string
	err    error
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	// ctx carries the signed-in identity; history operations need it.
	ctx     context.Context
	manager *chat.Manager
	owner   string

	updates     <-chan model.SessionView
	unsubscribe func()

	view   model.SessionView
	saved  []model.SavedConversation
	notice string
	err    error

	viewport    viewport.Model
	input       textinput.Model
	st          styles
	width       int
	showHistory bool
	mdStyle     string
}

// Options configures the chat screen.
type Options struct {
	// MarkdownStyle is the glamour style for bot messages. Empty means
	// "auto"; "plain" disables markdown rendering.
	MarkdownStyle string
}

// New creates the chat screen for owner. Call Close when the program exits.
func New(ctx context.Context, manager *chat.Manager, owner string, opts Options) *Model {
	input := textinput.New()
	input.Placeholder = "Type a message or /help"
	input.CharLimit = 4096
	input.Focus()

	updates, unsubscribe := manager.Subscribe(owner)

	m := &Model{
		ctx:         ctx,
		manager:     manager,
		owner:       owner,
		updates:     updates,
		unsubscribe: unsubscribe,
		viewport:    viewport.New(80, 20),
		input:       input,
		st:          defaultStyles(),
		width:       80,
		mdStyle:     opts.MarkdownStyle,
	}
	m.resizeMarkdown()
	return m
}

// Close releases the snapshot subscription.
func (m *Model) Close() {
	m.unsubscribe()
}

// Run starts the program in the alternate screen and blocks until it exits.
func Run(ctx context.Context, manager *chat.Manager, owner string, opts Options) error {
	m := New(ctx, manager, owner, opts)
	defer m.Close()

	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForSnapshot(), m.open())
}

// open obtains the session, bootstrapping it on first use.
func (m *Model) open() tea.Cmd {
	return func() tea.Msg {
		s, err := m.manager.Session(m.ctx, m.owner)
		if err != nil {
			return resultMsg{err: err}
		}
		return snapshotMsg(s.View())
	}
}

func (m *Model) waitForSnapshot() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		view, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(view)
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-5, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.resizeMarkdown()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			m.setDraft("")
			return m, m.dispatch(line)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if after := m.input.Value(); after != before {
			m.setDraft(after)
		}
		return m, cmd

	case snapshotMsg:
		// Snapshots can arrive from both the subscription and open().
		if msg.Version >= m.view.Version {
			m.view = model.SessionView(msg)
			m.refresh()
		}
		if msg.State == model.StateTerminated {
			return m, nil
		}
		return m, m.waitForSnapshot()

	case savedListMsg:
		m.saved = msg
		m.showHistory = true
		m.err = nil
		m.refresh()
		return m, nil

	case resultMsg:
		m.notice, m.err = msg.notice, msg.err
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// resizeMarkdown rebuilds the markdown renderer for the current width. On
// failure bot text falls back to plain rendering.
func (m *Model) resizeMarkdown() {
	if m.mdStyle == "plain" {
		m.st.markdown = nil
		return
	}
	r, err := newMarkdown(m.mdStyle, m.width)
	if err != nil {
		m.st.markdown = nil
		m.err = fmt.Errorf("markdown style %q: %w", m.mdStyle, err)
		return
	}
	m.st.markdown = r
}

// setDraft mirrors the input line into the session without bootstrapping.
func (m *Model) setDraft(text string) {
	if s, ok := m.manager.Lookup(m.owner); ok {
		s.SetInput(text)
	}
}

func (m *Model) dispatch(line string) tea.Cmd {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	c, err := parseCommand(line)
	if err != nil {
		m.notice, m.err = "", err
		return nil
	}
	m.err = nil

	switch c.kind {
	case cmdQuit:
		return tea.Quit
	case cmdHelp:
		m.notice = helpText
		return nil
	case cmdSend:
		m.showHistory = false
		m.refresh()
		return m.withSession(func(s *chat.Session) resultMsg {
			return resultMsg{err: s.Send(m.ctx, c.text)}
		})
	case cmdPick:
		prompt, ok := latestPrompt(m.view.Messages)
		if !ok {
			m.err = fmt.Errorf("no open question to answer")
			return nil
		}
		return m.withSession(func(s *chat.Session) resultMsg {
			return resultMsg{err: s.SelectOption(m.ctx, prompt.ID, c.n-1)}
		})
	case cmdRetry:
		return m.withSession(func(s *chat.Session) resultMsg {
			return resultMsg{err: s.Retry(m.ctx)}
		})
	case cmdReset:
		m.showHistory = false
		return func() tea.Msg {
			_, err := m.manager.Reset(m.ctx, m.owner)
			return resultMsg{notice: "Started a new conversation", err: err}
		}
	case cmdSave:
		return func() tea.Msg {
			saved, err := m.manager.Save(m.ctx, m.owner, c.text)
			if err != nil {
				return resultMsg{err: err}
			}
			return resultMsg{notice: fmt.Sprintf("Saved %q", saved.Title)}
		}
	case cmdHistory:
		return m.listSaved()
	case cmdLoad:
		rec, err := m.savedAt(c.n)
		if err != nil {
			m.err = err
			return nil
		}
		m.showHistory = false
		return func() tea.Msg {
			_, err := m.manager.LoadSaved(m.ctx, m.owner, rec.ID)
			return resultMsg{notice: fmt.Sprintf("Loaded %q", rec.Title), err: err}
		}
	case cmdDelete:
		rec, err := m.savedAt(c.n)
		if err != nil {
			m.err = err
			return nil
		}
		return func() tea.Msg {
			if err := m.manager.DeleteSaved(m.ctx, m.owner, rec.ID); err != nil {
				return resultMsg{err: err}
			}
			list, err := m.manager.ListSaved(m.ctx, m.owner)
			if err != nil {
				return resultMsg{err: err}
			}
			return savedListMsg(list)
		}
	}
	return nil
}

func (m *Model) withSession(fn func(*chat.Session) resultMsg) tea.Cmd {
	return func() tea.Msg {
		s, err := m.manager.Session(m.ctx, m.owner)
		if err != nil {
			return resultMsg{err: err}
		}
		return fn(s)
	}
}

func (m *Model) listSaved() tea.Cmd {
	return func() tea.Msg {
		list, err := m.manager.ListSaved(m.ctx, m.owner)
		if err != nil {
			return resultMsg{err: err}
		}
		return savedListMsg(list)
	}
}

func (m *Model) savedAt(n int) (model.SavedConversation, error) {
	if len(m.saved) == 0 {
		return model.SavedConversation{}, fmt.Errorf("run /history first")
	}
	if n > len(m.saved) {
		return model.SavedConversation{}, fmt.Errorf("no saved conversation #%d", n)
	}
	return m.saved[n-1], nil
}

func (m *Model) refresh() {
	if m.showHistory {
		m.viewport.SetContent(renderSaved(m.saved, m.st))
		m.viewport.GotoTop()
		return
	}
	m.viewport.SetContent(renderMessages(m.view.Messages, m.width, m.st))
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m *Model) View() string {
	header := m.st.title.Render("Celia") + "  " + m.st.status.Render(string(m.view.State))

	var footer string
	switch {
	case m.err != nil:
		footer = m.st.errText.Render(m.err.Error())
	case m.notice != "":
		footer = m.st.status.Render(m.notice)
	default:
		footer = m.st.status.Render(m.view.Status)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		footer,
		m.input.View(),
	)
}
