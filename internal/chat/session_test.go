package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/celia/internal/botapi"
	"github.com/capitalize-ai/celia/internal/model"
	"github.com/capitalize-ai/celia/pkg/logger"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeBot is a scripted bot backend. Users are k1, k2, ... and each user
// gets conversation c1, c2, ... respectively.
type fakeBot struct {
	mu        sync.Mutex
	users     int
	userErr   error
	convErr   error
	sendErr   error
	listErrs  int
	convs     map[string][]botapi.RawMessage
	sent      []string
	listCalls map[string]int

	// sendGate, when set, blocks SendMessage until closed.
	sendGate chan struct{}
	// listGate blocks ListMessages for the given user key until closed,
	// ignoring context cancellation like a hung transport would.
	listGate    chan struct{}
	listGateKey string
	// onSend lets a test script the backend's reaction to a send. Without
	// it every delivered text is stored and listed back.
	onSend func(f *fakeBot, userKey, conversationID, text string)
}

func newFakeBot() *fakeBot {
	return &fakeBot{
		convs:     map[string][]botapi.RawMessage{},
		listCalls: map[string]int{},
	}
}

func (f *fakeBot) CreateUser(ctx context.Context) (botapi.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return botapi.User{}, f.userErr
	}
	f.users++
	return botapi.User{Key: fmt.Sprintf("k%d", f.users), RemoteID: fmt.Sprintf("u%d", f.users)}, nil
}

func (f *fakeBot) CreateConversation(ctx context.Context, userKey string) (botapi.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return botapi.Conversation{}, f.convErr
	}
	return botapi.Conversation{ID: "c" + strings.TrimPrefix(userKey, "k")}, nil
}

func (f *fakeBot) SendMessage(ctx context.Context, userKey, conversationID, text string) (botapi.RawMessage, error) {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	if f.sendErr != nil {
		return botapi.RawMessage{}, f.sendErr
	}
	if f.onSend != nil {
		f.onSend(f, userKey, conversationID, text)
	} else {
		id := fmt.Sprintf("echo%d", len(f.sent))
		f.convs[conversationID] = append(f.convs[conversationID],
			raw(id, conversationID, userKey, text, FormatCreatedAt(time.Now())))
	}
	return botapi.RawMessage{ID: "ack", ConversationID: conversationID, UserID: userKey}, nil
}

func (f *fakeBot) ListMessages(ctx context.Context, userKey, conversationID string) ([]botapi.RawMessage, error) {
	f.mu.Lock()
	gate, gateKey := f.listGate, f.listGateKey
	f.listCalls[userKey]++
	f.mu.Unlock()
	if gate != nil && gateKey == userKey {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErrs > 0 {
		f.listErrs--
		return nil, &botapi.NetworkError{Op: botapi.OpListMessages, Err: errors.New("connection refused")}
	}
	return append([]botapi.RawMessage(nil), f.convs[conversationID]...), nil
}

func (f *fakeBot) push(conversationID string, msgs ...botapi.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[conversationID] = append(f.convs[conversationID], msgs...)
}

func (f *fakeBot) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func raw(id, conversationID, userID, text, at string, opts ...model.Option) botapi.RawMessage {
	return botapi.RawMessage{
		ID:             id,
		ConversationID: conversationID,
		UserID:         userID,
		Payload:        botapi.Payload{Type: "text", Text: text, Options: opts},
		CreatedAt:      at,
	}
}

func newTestSession(t *testing.T, bot *fakeBot, interval time.Duration) *Session {
	t.Helper()
	s := NewSession(bot, Options{Owner: "uid-1", PollInterval: interval}, logger.Nop())
	t.Cleanup(s.Terminate)
	return s
}

func startedSession(t *testing.T, bot *fakeBot, interval time.Duration) *Session {
	t.Helper()
	s := newTestSession(t, bot, interval)
	require.NoError(t, s.Bootstrap(context.Background()))
	return s
}

// pausePolling stops the poll loop so optimistic state is not reconciled
// behind the test's back.
func pausePolling(s *Session) {
	s.mu.Lock()
	s.stopPollingLocked()
	s.mu.Unlock()
}

func countText(msgs []model.Message, text string) int {
	n := 0
	for _, m := range msgs {
		if m.Text == text {
			n++
		}
	}
	return n
}

func TestBootstrapActivatesAndPolls(t *testing.T) {
	bot := newFakeBot()
	bot.push("c1", raw("srv1", "c1", "", "Welcome!", "2024-01-01T00:00:00Z"))

	s := startedSession(t, bot, tick)

	view := s.View()
	assert.Equal(t, model.StateActive, view.State)
	assert.Equal(t, "k1", view.UserKey)
	assert.Equal(t, "c1", view.ConversationID)

	require.Eventually(t, func() bool { return len(s.View().Messages) == 1 }, waitFor, tick)
	view = s.View()
	assert.Equal(t, "bot_botpress", view.Messages[0].SenderID)
	assert.Equal(t, "Updated messages", view.Status)
}

func TestBootstrapFailureRequiresManualRetry(t *testing.T) {
	bot := newFakeBot()
	bot.userErr = &botapi.HTTPError{Op: botapi.OpCreateUser, StatusCode: 503, Body: "down"}

	s := newTestSession(t, bot, time.Hour)

	err := s.Bootstrap(context.Background())
	require.Error(t, err)
	view := s.View()
	assert.Equal(t, model.StateBootstrapping, view.State)
	assert.True(t, strings.HasPrefix(view.Status, "Error creating user: "), view.Status)
	assert.ErrorIs(t, s.Send(context.Background(), "hi"), ErrNotActive)

	bot.mu.Lock()
	bot.userErr = nil
	bot.convErr = errors.New("boom")
	bot.mu.Unlock()

	require.Error(t, s.Retry(context.Background()))
	assert.Equal(t, "Error creating conversation: boom", s.View().Status)
	assert.Equal(t, model.StateBootstrapping, s.State())

	bot.mu.Lock()
	bot.convErr = nil
	bot.mu.Unlock()

	require.NoError(t, s.Retry(context.Background()))
	assert.Equal(t, model.StateActive, s.State())
	assert.Equal(t, "k2", s.View().UserKey)

	// Retry on an active session is a no-op.
	require.NoError(t, s.Retry(context.Background()))
	assert.Equal(t, "k2", s.View().UserKey)
}

func TestSendAppendsOptimisticMessageBeforeNetwork(t *testing.T) {
	bot := newFakeBot()
	bot.sendGate = make(chan struct{})

	s := startedSession(t, bot, time.Hour)
	pausePolling(s)
	s.SetInput("hello")

	errCh := make(chan error, 1)
	go func() { errCh <- s.Send(context.Background(), "hello") }()

	require.Eventually(t, func() bool { return len(s.View().Messages) == 1 }, waitFor, tick)

	view := s.View()
	msg := view.Messages[0]
	assert.True(t, strings.HasPrefix(msg.ID, model.TempIDPrefix), msg.ID)
	assert.Equal(t, "user_k1", msg.SenderID)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "c1", msg.ConversationID)
	assert.Empty(t, view.InputText)
	assert.Equal(t, "Sending message...", view.Status)

	close(bot.sendGate)
	require.NoError(t, <-errCh)
	assert.Equal(t, "Message sent", s.View().Status)
}

func TestSlowPollDoesNotBlockSend(t *testing.T) {
	bot := newFakeBot()
	bot.listGate = make(chan struct{})
	bot.listGateKey = "k1"
	defer close(bot.listGate)

	s := startedSession(t, bot, tick)
	require.Eventually(t, func() bool {
		bot.mu.Lock()
		defer bot.mu.Unlock()
		return bot.listCalls["k1"] > 0
	}, waitFor, tick)

	require.NoError(t, s.Send(context.Background(), "while polling"))
	assert.Len(t, s.View().Messages, 1)
}

func TestSendFreezesEarlierPrompts(t *testing.T) {
	bot := newFakeBot()
	bot.push("c1", raw("srv1", "c1", "", "Pick", "2024-01-01T00:00:00Z", model.Option{Label: "A", Value: "a"}))

	s := startedSession(t, bot, tick)
	require.Eventually(t, func() bool { return len(s.View().Messages) == 1 }, waitFor, tick)
	assert.False(t, s.View().Messages[0].Interacted)

	require.NoError(t, s.Send(context.Background(), "something else"))

	view := s.View()
	require.NotEmpty(t, view.Messages)
	assert.True(t, view.Messages[0].Interacted)

	// Later polls must not thaw it.
	time.Sleep(5 * tick)
	assert.True(t, s.View().Messages[0].Interacted)
}

func TestSendFailureKeepsOptimisticMessage(t *testing.T) {
	bot := newFakeBot()
	bot.sendErr = &botapi.NetworkError{Op: botapi.OpSendMessage, Err: errors.New("offline")}

	s := startedSession(t, bot, time.Hour)
	pausePolling(s)

	err := s.Send(context.Background(), "are you there?")
	require.Error(t, err)
	assert.True(t, botapi.IsRetryable(err))

	view := s.View()
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "are you there?", view.Messages[0].Text)
	assert.True(t, strings.HasPrefix(view.Status, "Error sending message: "), view.Status)
}

func TestFailedSendIsDroppedOnNextPoll(t *testing.T) {
	bot := newFakeBot()
	bot.push("c1", raw("srv1", "c1", "", "Welcome", "2024-01-01T00:00:00Z"))
	bot.sendErr = &botapi.NetworkError{Op: botapi.OpSendMessage, Err: errors.New("offline")}

	s := startedSession(t, bot, tick)
	require.Eventually(t, func() bool { return len(s.View().Messages) == 1 }, waitFor, tick)

	require.Error(t, s.Send(context.Background(), "lost"))

	require.Eventually(t, func() bool {
		msgs := s.View().Messages
		return len(msgs) == 1 && msgs[0].ID == "srv1"
	}, waitFor, tick)
	assert.Zero(t, countText(s.View().Messages, "lost"))
}

func TestInFlightSendSurvivesPolls(t *testing.T) {
	bot := newFakeBot()
	bot.sendGate = make(chan struct{})

	s := startedSession(t, bot, tick)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Send(context.Background(), "ok") }()
	require.Eventually(t, func() bool { return len(s.View().Messages) == 1 }, waitFor, tick)

	bot.mu.Lock()
	calls := bot.listCalls["k1"]
	bot.mu.Unlock()
	require.Eventually(t, func() bool {
		bot.mu.Lock()
		defer bot.mu.Unlock()
		return bot.listCalls["k1"] >= calls+3
	}, waitFor, tick)

	msgs := s.View().Messages
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsTemp())

	close(bot.sendGate)
	require.NoError(t, <-errCh)

	require.Eventually(t, func() bool {
		msgs := s.View().Messages
		return len(msgs) == 1 && !msgs[0].IsTemp()
	}, waitFor, tick)
	assert.Equal(t, 1, countText(s.View().Messages, "ok"))
}

func TestSendAsyncReturnsBeforeDelivery(t *testing.T) {
	bot := newFakeBot()
	bot.sendGate = make(chan struct{})

	s := startedSession(t, bot, tick)

	require.NoError(t, s.SendAsync(context.Background(), "hello"))

	view := s.View()
	require.Len(t, view.Messages, 1)
	assert.True(t, view.Messages[0].IsTemp())
	assert.Equal(t, "Sending message...", view.Status)
	assert.Empty(t, bot.sentTexts())

	close(bot.sendGate)
	require.Eventually(t, func() bool {
		msgs := s.View().Messages
		return len(msgs) == 1 && !msgs[0].IsTemp()
	}, waitFor, tick)
	assert.Equal(t, []string{"hello"}, bot.sentTexts())

	assert.ErrorIs(t, s.SendAsync(context.Background(), " "), ErrEmptyMessage)
}

func TestTerminateDoesNotWaitForHungPoll(t *testing.T) {
	bot := newFakeBot()
	bot.push("c1", raw("late", "c1", "", "arrives after terminate", "2024-01-01T00:00:00Z"))
	bot.listGate = make(chan struct{})
	bot.listGateKey = "k1"

	s := startedSession(t, bot, tick)
	require.Eventually(t, func() bool {
		bot.mu.Lock()
		defer bot.mu.Unlock()
		return bot.listCalls["k1"] == 1
	}, waitFor, tick)

	s.mu.Lock()
	h := s.poll
	s.mu.Unlock()
	require.NotNil(t, h)

	done := make(chan struct{})
	go func() {
		s.Terminate()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Terminate blocked on the hung poll")
	}

	close(bot.listGate)
	select {
	case <-h.done:
	case <-time.After(waitFor):
		t.Fatal("polling task did not exit")
	}
	assert.Empty(t, s.View().Messages)
	assert.Equal(t, model.StateTerminated, s.State())
}

func TestSendRejectsBlankText(t *testing.T) {
	s := startedSession(t, newFakeBot(), time.Hour)

	assert.ErrorIs(t, s.Send(context.Background(), "   "), ErrEmptyMessage)
	assert.Empty(t, s.View().Messages)
}

func TestEndToEndExchange(t *testing.T) {
	bot := newFakeBot()
	bot.onSend = func(f *fakeBot, userKey, conversationID, text string) {
		f.convs[conversationID] = append(f.convs[conversationID],
			raw("srv1", conversationID, userKey, text, "2024-01-01T00:00:01Z"),
			raw("srv2", conversationID, "botpress", "Hello! How can I help?", "2024-01-01T00:00:02Z"),
		)
	}

	s := startedSession(t, bot, tick)
	require.Equal(t, "k1", s.View().UserKey)
	require.Equal(t, "c1", s.View().ConversationID)

	require.NoError(t, s.Send(context.Background(), "Hi"))

	require.Eventually(t, func() bool {
		msgs := s.View().Messages
		return len(msgs) == 2 && msgs[0].ID == "srv1"
	}, waitFor, tick)

	msgs := s.View().Messages
	assert.Equal(t, "user_k1", msgs[0].SenderID)
	assert.Equal(t, "Hi", msgs[0].Text)
	assert.Equal(t, "srv2", msgs[1].ID)
	assert.Equal(t, "bot_botpress", msgs[1].SenderID)
	assert.Equal(t, "Hello! How can I help?", msgs[1].Text)
	for _, m := range msgs {
		assert.False(t, m.IsTemp())
	}
}

func TestResetDiscardsSlowInFlightPoll(t *testing.T) {
	bot := newFakeBot()
	bot.push("c1", raw("stale", "c1", "", "from the old conversation", "2024-01-01T00:00:00Z"))
	bot.listGate = make(chan struct{})
	bot.listGateKey = "k1"

	s := startedSession(t, bot, tick)

	// Wait until the first poll is stuck in flight.
	require.Eventually(t, func() bool {
		bot.mu.Lock()
		defer bot.mu.Unlock()
		return bot.listCalls["k1"] == 1
	}, waitFor, tick)

	s.mu.Lock()
	oldHandle := s.poll
	oldEpoch := s.epoch
	s.mu.Unlock()
	require.NotNil(t, oldHandle)

	s.SetInput("draft")
	require.NoError(t, s.Reset(context.Background()))

	view := s.View()
	assert.Equal(t, "k2", view.UserKey)
	assert.Equal(t, "c2", view.ConversationID)
	assert.Empty(t, view.InputText)

	// Let the stale response arrive after the reset.
	close(bot.listGate)
	select {
	case <-oldHandle.done:
	case <-time.After(waitFor):
		t.Fatal("old polling task did not exit")
	}

	// Even a result delivered with the old epoch is ignored.
	assert.False(t, s.pollOnce(context.Background(), oldEpoch, "k1", "c1"))

	time.Sleep(5 * tick)
	for _, m := range s.View().Messages {
		assert.NotEqual(t, "stale", m.ID)
	}
	assert.Equal(t, model.StateActive, s.State())
}

func TestPollErrorsDoNotStopTheLoop(t *testing.T) {
	bot := newFakeBot()
	bot.listErrs = 3
	bot.push("c1", raw("srv1", "c1", "", "eventually", "2024-01-01T00:00:00Z"))

	var mu sync.Mutex
	var statuses []string
	s := NewSession(bot, Options{
		PollInterval: tick,
		OnChange: func(v model.SessionView) {
			mu.Lock()
			statuses = append(statuses, v.Status)
			mu.Unlock()
		},
	}, logger.Nop())
	t.Cleanup(s.Terminate)
	require.NoError(t, s.Bootstrap(context.Background()))

	require.Eventually(t, func() bool { return len(s.View().Messages) == 1 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, st := range statuses {
		if strings.HasPrefix(st, "Error getting messages: ") {
			found = true
		}
	}
	assert.True(t, found, "expected a polling error status, got %v", statuses)
}

func TestSelectOption(t *testing.T) {
	bot := newFakeBot()
	bot.push("c1",
		raw("p1", "c1", "", "Pick", "2024-01-01T00:00:00Z", model.Option{Label: "A", Value: "a"}, model.Option{Label: "B", Value: "b"}),
		raw("t1", "c1", "", "Plain", "2024-01-01T00:00:01Z"),
	)

	s := startedSession(t, bot, tick)
	require.Eventually(t, func() bool { return len(s.View().Messages) == 2 }, waitFor, tick)

	assert.ErrorIs(t, s.SelectOption(context.Background(), "missing", 0), ErrMessageNotFound)
	assert.ErrorIs(t, s.SelectOption(context.Background(), "t1", 0), ErrInvalidOption)
	assert.ErrorIs(t, s.SelectOption(context.Background(), "p1", 5), ErrInvalidOption)

	require.NoError(t, s.SelectOption(context.Background(), "p1", 1))
	assert.Equal(t, []string{"b"}, bot.sentTexts())

	msgs := s.View().Messages
	assert.True(t, msgs[0].Interacted)
	assert.Equal(t, "b", msgs[len(msgs)-1].Text)

	assert.ErrorIs(t, s.SelectOption(context.Background(), "p1", 0), ErrAlreadyInteracted)
}

func TestLoadSavedConversation(t *testing.T) {
	bot := newFakeBot()
	s := startedSession(t, bot, tick)

	saved := model.SavedConversation{
		ID:             "saved-1",
		Title:          "Booking",
		UserKey:        "k9",
		ConversationID: "c9",
		Messages: []model.Message{
			{ID: "srv1", ConversationID: "c9", SenderID: "user_k9", Text: "Book", CreatedAt: "2024-01-01T00:00:00Z"},
		},
	}
	require.NoError(t, s.Load(saved))

	view := s.View()
	assert.Equal(t, model.StateActive, view.State)
	assert.Equal(t, "k9", view.UserKey)
	assert.Equal(t, "c9", view.ConversationID)
	assert.Equal(t, "Loaded conversation: Booking", view.Status)
	require.Len(t, view.Messages, 1)

	require.Eventually(t, func() bool {
		bot.mu.Lock()
		defer bot.mu.Unlock()
		return bot.listCalls["k9"] > 0
	}, waitFor, tick)

	// The session owns a copy.
	saved.Messages[0].Text = "changed"
	assert.Equal(t, "Book", s.View().Messages[0].Text)

	assert.ErrorIs(t, s.Load(model.SavedConversation{Title: "broken"}), ErrSessionLost)
}

func TestSaveSnapshot(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)
	bot := newFakeBot()
	s := NewSession(bot, Options{PollInterval: time.Hour, Now: func() time.Time { return now }}, logger.Nop())
	t.Cleanup(s.Terminate)

	_, err := s.SaveSnapshot("")
	assert.ErrorIs(t, err, ErrNothingToSave)
	assert.Equal(t, "Cannot save an empty conversation", s.View().Status)

	require.NoError(t, s.Bootstrap(context.Background()))
	require.NoError(t, s.Send(context.Background(), "I need help with my order please"))

	snap, err := s.SaveSnapshot("  ")
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "I need help with my ...", snap.Title)
	assert.Equal(t, "Mar 5, 2024 14:07", snap.SavedAt)
	assert.Equal(t, "k1", snap.UserKey)
	assert.Equal(t, "c1", snap.ConversationID)
	require.Len(t, snap.Messages, 1)

	named, err := s.SaveSnapshot("Order issue")
	require.NoError(t, err)
	assert.Equal(t, "Order issue", named.Title)
	assert.NotEqual(t, snap.ID, named.ID)
}

func TestTempIDsAreUniqueUnderAFrozenClock(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	s := NewSession(newFakeBot(), Options{PollInterval: time.Hour, Now: func() time.Time { return now }}, logger.Nop())
	t.Cleanup(s.Terminate)
	require.NoError(t, s.Bootstrap(context.Background()))
	pausePolling(s)

	require.NoError(t, s.Send(context.Background(), "one"))
	require.NoError(t, s.Send(context.Background(), "two"))

	msgs := s.View().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "temp_1700000000000", msgs[0].ID)
	assert.Equal(t, "temp_1700000000001", msgs[1].ID)
}

func TestTerminate(t *testing.T) {
	s := startedSession(t, newFakeBot(), tick)

	s.mu.Lock()
	h := s.poll
	s.mu.Unlock()
	require.NotNil(t, h)

	s.Terminate()

	select {
	case <-h.done:
	case <-time.After(waitFor):
		t.Fatal("polling task did not exit")
	}
	assert.Equal(t, model.StateTerminated, s.State())
	assert.ErrorIs(t, s.Send(context.Background(), "hi"), ErrNotActive)
	assert.ErrorIs(t, s.Reset(context.Background()), ErrTerminated)
	assert.ErrorIs(t, s.Bootstrap(context.Background()), ErrTerminated)
	assert.ErrorIs(t, s.Retry(context.Background()), ErrTerminated)

	// Idempotent.
	s.Terminate()
}
