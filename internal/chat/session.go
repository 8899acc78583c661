package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/internal/botapi"
	"github.com/capitalize-ai/celia/internal/model"
	"github.com/capitalize-ai/celia/pkg/logger"
	"github.com/capitalize-ai/celia/pkg/metrics"
)

// DefaultPollInterval is the fixed delay between polling ticks.
const DefaultPollInterval = 2 * time.Second

var (
	ErrNotActive         = errors.New("chat: session is not active")
	ErrEmptyMessage      = errors.New("chat: message is empty")
	ErrAlreadyInteracted = errors.New("chat: options of this message can no longer be selected")
	ErrInvalidOption     = errors.New("chat: message has no such option")
	ErrMessageNotFound   = errors.New("chat: message not found")
	ErrSessionLost       = errors.New("chat: session has no user key or conversation id")
	ErrNothingToSave     = errors.New("chat: nothing to save")
	ErrTerminated        = errors.New("chat: session terminated")
	ErrSuperseded        = errors.New("chat: superseded by a newer session operation")
)

// BotAPI is the subset of the bot backend a session needs.
type BotAPI interface {
	CreateUser(ctx context.Context) (botapi.User, error)
	CreateConversation(ctx context.Context, userKey string) (botapi.Conversation, error)
	SendMessage(ctx context.Context, userKey, conversationID, text string) (botapi.RawMessage, error)
	ListMessages(ctx context.Context, userKey, conversationID string) ([]botapi.RawMessage, error)
}

// Options configures a Session.
type Options struct {
	// Owner identifies the signed-in user the session belongs to.
	Owner        string
	PollInterval time.Duration
	// Now overrides the clock.
	Now func() time.Time
	// OnChange is called with a fresh snapshot after every state change.
	// It runs outside the session lock and must not block for long.
	OnChange func(model.SessionView)
}

// Session is one live conversation with the bot backend. All methods are
// safe for concurrent use; the message list is only written under mu, by
// Send and by the polling task.
type Session struct {
	api      BotAPI
	log      *logger.Logger
	owner    string
	interval time.Duration
	now      func() time.Time
	onChange func(model.SessionView)

	mu             sync.Mutex
	state          model.SessionState
	userKey        string
	conversationID string
	messages       []model.Message
	inputText      string
	status         string
	version        uint64
	updatedAt      time.Time

	// epoch is bumped whenever in-flight work must be invalidated.
	epoch    uint64
	poll     *pollHandle
	lastTemp int64
	// sending holds the ids of temp messages whose delivery has not returned.
	sending map[string]bool
}

// NewSession creates an uninitialized session. Call Bootstrap to start it.
func NewSession(api BotAPI, opts Options, log *logger.Logger) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Global()
	}

	return &Session{
		api:      api,
		log:      log.Component("session").With(zap.String("owner", opts.Owner)),
		owner:    opts.Owner,
		interval: opts.PollInterval,
		now:      opts.Now,
		onChange: opts.OnChange,
		state:    model.StateUninitialized,
		sending:  make(map[string]bool),
	}
}

// Bootstrap creates a remote user and conversation and starts polling.
// On failure the session stays in Bootstrapping with the error recorded
// in its status; call Retry to try again.
func (s *Session) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case model.StateTerminated:
		s.mu.Unlock()
		return ErrTerminated
	case model.StateActive:
		s.mu.Unlock()
		return nil
	}
	s.epoch++
	epoch := s.epoch
	s.state = model.StateBootstrapping
	s.userKey, s.conversationID = "", ""
	s.touchLocked()
	s.mu.Unlock()
	s.notify()

	user, err := s.api.CreateUser(ctx)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		s.setStatusLocked(fmt.Sprintf("Error creating user: %v", err))
		s.mu.Unlock()
		s.log.Warn("failed to create bot user", zap.Error(err))
		s.notify()
		return fmt.Errorf("create user: %w", err)
	}
	s.userKey = user.Key
	s.setStatusLocked("User created: " + user.Key)
	s.mu.Unlock()
	s.notify()

	conv, err := s.api.CreateConversation(ctx, user.Key)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		s.setStatusLocked(fmt.Sprintf("Error creating conversation: %v", err))
		s.mu.Unlock()
		s.log.Warn("failed to create conversation", zap.Error(err))
		s.notify()
		return fmt.Errorf("create conversation: %w", err)
	}
	s.conversationID = conv.ID
	s.messages = nil
	s.state = model.StateActive
	s.setStatusLocked("Conversation created: " + conv.ID)
	s.startPollingLocked()
	s.mu.Unlock()

	s.log.Info("session active", zap.String("conversation_id", conv.ID))
	s.notify()
	return nil
}

// Retry re-runs Bootstrap when a previous attempt did not complete.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case model.StateUninitialized, model.StateBootstrapping:
		return s.Bootstrap(ctx)
	case model.StateTerminated:
		return ErrTerminated
	default:
		return nil
	}
}

// Reset abandons the current conversation and bootstraps a brand-new
// remote user and conversation. The running polling task is cancelled
// first; any result it still delivers is discarded.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	if s.state == model.StateTerminated {
		s.mu.Unlock()
		return ErrTerminated
	}
	s.stopPollingLocked()
	s.state = model.StateResetting
	s.userKey, s.conversationID = "", ""
	s.messages = nil
	s.inputText = ""
	s.setStatusLocked("Resetting conversation...")
	s.mu.Unlock()

	s.log.Info("resetting session")
	s.notify()

	return s.Bootstrap(ctx)
}

// Send appends an optimistic copy of text to the message list before
// returning control to the network, freezes every earlier bot prompt and
// then delivers text to the backend. A failed delivery is reported in the
// status and the optimistic copy stays until the next poll.
func (s *Session) Send(ctx context.Context, text string) error {
	out, err := s.enqueue(text)
	if err != nil {
		return err
	}
	return s.deliver(ctx, out)
}

// SendAsync appends the optimistic copy like Send and returns once it is
// visible. Delivery continues in the background, detached from ctx
// cancellation; its outcome is reported through the status.
func (s *Session) SendAsync(ctx context.Context, text string) error {
	out, err := s.enqueue(text)
	if err != nil {
		return err
	}
	go func() {
		_ = s.deliver(context.WithoutCancel(ctx), out)
	}()
	return nil
}

// outgoing is a message appended locally and not yet delivered.
type outgoing struct {
	tempID         string
	epoch          uint64
	userKey        string
	conversationID string
	text           string
}

func (s *Session) enqueue(text string) (outgoing, error) {
	if strings.TrimSpace(text) == "" {
		return outgoing{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state != model.StateActive {
		s.mu.Unlock()
		return outgoing{}, ErrNotActive
	}
	now := s.now()
	out := outgoing{
		tempID:         s.nextTempIDLocked(now),
		epoch:          s.epoch,
		userKey:        s.userKey,
		conversationID: s.conversationID,
		text:           text,
	}
	s.messages = append(s.messages, model.Message{
		ID:             out.tempID,
		ConversationID: s.conversationID,
		SenderID:       model.UserSenderPrefix + s.userKey,
		Text:           text,
		Kind:           model.KindText,
		CreatedAt:      FormatCreatedAt(now),
	})
	s.sending[out.tempID] = true
	s.inputText = ""
	s.freezePromptsLocked()
	s.setStatusLocked("Sending message...")
	s.mu.Unlock()
	s.notify()
	return out, nil
}

func (s *Session) deliver(ctx context.Context, out outgoing) error {
	_, err := s.api.SendMessage(ctx, out.userKey, out.conversationID, out.text)
	metrics.RecordSend(err)

	s.mu.Lock()
	delete(s.sending, out.tempID)
	current := s.epoch == out.epoch
	if current {
		if err != nil {
			s.setStatusLocked(fmt.Sprintf("Error sending message: %v", err))
		} else {
			s.setStatusLocked("Message sent")
		}
	}
	s.mu.Unlock()

	if current {
		s.notify()
	}
	if err != nil {
		s.log.Warn("failed to send message", zap.Error(err))
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SelectOption answers a bot prompt with one of its options. The prompt is
// marked interacted and the option value is sent like typed text.
func (s *Session) SelectOption(ctx context.Context, messageID string, index int) error {
	s.mu.Lock()
	if s.state != model.StateActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	i := slices.IndexFunc(s.messages, func(m model.Message) bool { return m.ID == messageID })
	if i < 0 {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	msg := s.messages[i]
	switch {
	case msg.IsFromUser() || !msg.HasOptions():
		s.mu.Unlock()
		return ErrInvalidOption
	case msg.Interacted:
		s.mu.Unlock()
		return ErrAlreadyInteracted
	case index < 0 || index >= len(msg.Options):
		s.mu.Unlock()
		return ErrInvalidOption
	}
	s.messages[i].Interacted = true
	value := msg.Options[index].Value
	s.touchLocked()
	s.mu.Unlock()

	return s.Send(ctx, value)
}

// SetInput stores the pending draft.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	s.inputText = text
	s.touchLocked()
	s.mu.Unlock()
	s.notify()
}

// SetStatus replaces the human-readable status line.
func (s *Session) SetStatus(status string) {
	s.mu.Lock()
	s.setStatusLocked(status)
	s.mu.Unlock()
	s.notify()
}

// Load replaces the live conversation with a saved one and resumes polling
// it. Any running polling task is cancelled first.
func (s *Session) Load(saved model.SavedConversation) error {
	if saved.UserKey == "" || saved.ConversationID == "" {
		return ErrSessionLost
	}

	s.mu.Lock()
	if s.state == model.StateTerminated {
		s.mu.Unlock()
		return ErrTerminated
	}
	s.stopPollingLocked()
	s.userKey = saved.UserKey
	s.conversationID = saved.ConversationID
	s.messages = model.CloneMessages(saved.Messages)
	s.state = model.StateActive
	s.setStatusLocked("Loaded conversation: " + saved.Title)
	s.startPollingLocked()
	s.mu.Unlock()

	s.log.Info("loaded saved conversation",
		zap.String("saved_id", saved.ID),
		zap.String("conversation_id", saved.ConversationID),
	)
	s.notify()
	return nil
}

// SaveSnapshot freezes the current conversation into a record ready for the
// history store. A blank title is replaced by DefaultTitle.
func (s *Session) SaveSnapshot(title string) (model.SavedConversation, error) {
	s.mu.Lock()
	if len(s.messages) == 0 || s.userKey == "" || s.conversationID == "" {
		s.setStatusLocked("Cannot save an empty conversation")
		s.mu.Unlock()
		s.notify()
		return model.SavedConversation{}, ErrNothingToSave
	}
	defer s.mu.Unlock()

	now := s.now()
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle(s.messages, now)
	}

	return model.SavedConversation{
		ID:             uuid.NewString(),
		Title:          title,
		SavedAt:        now.Format(model.SavedAtLayout),
		Messages:       model.CloneMessages(s.messages),
		UserKey:        s.userKey,
		ConversationID: s.conversationID,
	}, nil
}

// Terminate stops polling for good. Further operations fail with ErrTerminated.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.state == model.StateTerminated {
		s.mu.Unlock()
		return
	}
	s.stopPollingLocked()
	s.state = model.StateTerminated
	s.setStatusLocked("Session ended")
	s.mu.Unlock()

	s.log.Info("session terminated")
	s.notify()
}

// State returns the current lifecycle state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View returns a snapshot of the session.
func (s *Session) View() model.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := model.CloneMessages(s.messages)
	if msgs == nil {
		msgs = []model.Message{}
	}

	return model.SessionView{
		Owner:          s.owner,
		State:          s.state,
		UserKey:        s.userKey,
		ConversationID: s.conversationID,
		Messages:       msgs,
		InputText:      s.inputText,
		Status:         s.status,
		Version:        s.version,
		UpdatedAt:      s.updatedAt,
	}
}

func (s *Session) notify() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.View())
}

func (s *Session) touchLocked() {
	s.version++
	s.updatedAt = s.now()
}

func (s *Session) setStatusLocked(status string) {
	s.status = status
	s.touchLocked()
}

// freezePromptsLocked marks every bot message with options as interacted.
func (s *Session) freezePromptsLocked() {
	for i := range s.messages {
		m := &s.messages[i]
		if !m.IsFromUser() && m.HasOptions() {
			m.Interacted = true
		}
	}
}

// nextTempIDLocked returns a temp id from the wall clock in milliseconds,
// bumped when needed so ids stay unique within the session.
func (s *Session) nextTempIDLocked(now time.Time) string {
	ms := now.UnixMilli()
	if ms <= s.lastTemp {
		ms = s.lastTemp + 1
	}
	s.lastTemp = ms
	return model.TempIDPrefix + strconv.FormatInt(ms, 10)
}
