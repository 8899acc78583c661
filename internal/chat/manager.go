package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/internal/model"
	"github.com/capitalize-ai/celia/pkg/logger"
	"github.com/capitalize-ai/celia/pkg/metrics"
)

// ErrNoOwner is returned when a session is requested without an owner.
var ErrNoOwner = errors.New("chat: session owner is required")

// HistoryStore persists saved conversations for the identity carried by ctx.
type HistoryStore interface {
	Save(ctx context.Context, rec model.SavedConversation) (model.SavedConversation, error)
	List(ctx context.Context) ([]model.SavedConversation, error)
	Get(ctx context.Context, id string) (model.SavedConversation, error)
	Delete(ctx context.Context, id string) error
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	PollInterval time.Duration
	// Titles, when set, names saved conversations the user left untitled.
	Titles TitleGenerator
	Hub    *Hub
}

// Manager keeps exactly one session per signed-in user.
type Manager struct {
	api      BotAPI
	history  HistoryStore
	titles   TitleGenerator
	hub      *Hub
	interval time.Duration
	log      *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(api BotAPI, history HistoryStore, opts ManagerOptions, log *logger.Logger) *Manager {
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	if log == nil {
		log = logger.Global()
	}
	return &Manager{
		api:      api,
		history:  history,
		titles:   opts.Titles,
		hub:      opts.Hub,
		interval: opts.PollInterval,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Session returns the owner's session, creating and bootstrapping it on
// first use. A failed bootstrap is reported through the session status.
func (m *Manager) Session(ctx context.Context, owner string) (*Session, error) {
	return m.obtain(ctx, owner, true)
}

func (m *Manager) obtain(ctx context.Context, owner string, bootstrap bool) (*Session, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, ErrNoOwner
	}

	m.mu.Lock()
	if s, ok := m.sessions[owner]; ok {
		m.mu.Unlock()
		return s, nil
	}
	s := NewSession(m.api, Options{
		Owner:        owner,
		PollInterval: m.interval,
		OnChange:     m.hub.Publish,
	}, m.log)
	m.sessions[owner] = s
	m.mu.Unlock()

	metrics.SessionsActive.Inc()

	if !bootstrap {
		return s, nil
	}
	if err := s.Bootstrap(context.WithoutCancel(ctx)); err != nil {
		m.log.Warn("session bootstrap failed", zap.String("owner", owner), zap.Error(err))
	}
	return s, nil
}

// Lookup returns the owner's session if one exists.
func (m *Manager) Lookup(owner string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[owner]
	return s, ok
}

// Reset starts a fresh conversation for owner.
func (m *Manager) Reset(ctx context.Context, owner string) (model.SessionView, error) {
	s, err := m.Session(ctx, owner)
	if err != nil {
		return model.SessionView{}, err
	}
	err = s.Reset(context.WithoutCancel(ctx))
	return s.View(), err
}

// End terminates and forgets the owner's session, as on sign-out.
func (m *Manager) End(owner string) {
	m.mu.Lock()
	s, ok := m.sessions[owner]
	delete(m.sessions, owner)
	m.mu.Unlock()

	if !ok {
		return
	}
	s.Terminate()
	metrics.SessionsActive.Dec()
	m.log.Info("session ended", zap.String("owner", owner))
}

// Shutdown terminates every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Terminate()
		metrics.SessionsActive.Dec()
	}
}

// Subscribe streams snapshots of the owner's session.
func (m *Manager) Subscribe(owner string) (<-chan model.SessionView, func()) {
	return m.hub.Subscribe(owner, DefaultBufferSize)
}

// Save snapshots the owner's conversation into the history store.
func (m *Manager) Save(ctx context.Context, owner, title string) (model.SavedConversation, error) {
	s, err := m.Session(ctx, owner)
	if err != nil {
		return model.SavedConversation{}, err
	}

	snap, err := s.SaveSnapshot(title)
	if err != nil {
		return model.SavedConversation{}, err
	}
	if strings.TrimSpace(title) == "" && m.titles != nil {
		if generated, err := m.titles.GenerateTitle(ctx, snap.Messages); err != nil {
			m.log.Warn("title generation failed, using default", zap.Error(err))
		} else if generated = strings.TrimSpace(generated); generated != "" {
			snap.Title = generated
		}
	}

	s.SetStatus("Saving conversation...")
	saved, err := m.history.Save(ctx, snap)
	if err != nil {
		s.SetStatus(fmt.Sprintf("Error saving conversation: %v", err))
		return model.SavedConversation{}, err
	}
	s.SetStatus("Conversation saved to cloud")
	return saved, nil
}

// ListSaved returns the signed-in user's saved conversations, newest first.
func (m *Manager) ListSaved(ctx context.Context, owner string) ([]model.SavedConversation, error) {
	s, hasSession := m.Lookup(owner)
	if hasSession {
		s.SetStatus("Loading conversations...")
	}

	list, err := m.history.List(ctx)
	if hasSession {
		if err != nil {
			s.SetStatus(fmt.Sprintf("Error loading conversations: %v", err))
		} else {
			s.SetStatus(fmt.Sprintf("%d conversations loaded", len(list)))
		}
	}
	return list, err
}

// DeleteSaved removes a saved conversation.
func (m *Manager) DeleteSaved(ctx context.Context, owner, id string) error {
	s, hasSession := m.Lookup(owner)
	if hasSession {
		s.SetStatus("Deleting conversation...")
	}

	err := m.history.Delete(ctx, id)
	if hasSession {
		if err != nil {
			s.SetStatus(fmt.Sprintf("Error deleting conversation: %v", err))
		} else {
			s.SetStatus("Conversation deleted")
		}
	}
	return err
}

// LoadSaved resumes a saved conversation in the owner's session.
func (m *Manager) LoadSaved(ctx context.Context, owner, id string) (model.SessionView, error) {
	saved, err := m.history.Get(ctx, id)
	if err != nil {
		return model.SessionView{}, err
	}

	s, err := m.obtain(ctx, owner, false)
	if err != nil {
		return model.SessionView{}, err
	}
	if err := s.Load(saved); err != nil {
		return model.SessionView{}, err
	}
	return s.View(), nil
}
