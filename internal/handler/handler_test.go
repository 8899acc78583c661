package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/capitalize-ai/celia/internal/auth"
	"github.com/capitalize-ai/celia/internal/botapi"
	"github.com/capitalize-ai/celia/internal/chat"
	"github.com/capitalize-ai/celia/internal/history"
	"github.com/capitalize-ai/celia/internal/model"
	"github.com/capitalize-ai/celia/pkg/logger"
)

const waitFor = 3 * time.Second

// echoBot is a minimal bot backend that answers every message with "echo: <text>".
type echoBot struct {
	mu       sync.Mutex
	users    int
	convs    int
	seq      int
	messages map[string][]botapi.RawMessage
	// sendGate, when set, holds POST /messages until closed.
	sendGate chan struct{}
}

func (b *echoBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && r.URL.Path == "/messages" {
		b.mu.Lock()
		gate := b.sendGate
		b.mu.Unlock()
		if gate != nil {
			<-gate
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/users":
		b.users++
		id := fmt.Sprintf("k%d", b.users)
		json.NewEncoder(w).Encode(map[string]any{
			"user": map[string]string{"id": id, "createdAt": b.now()},
			"key":  id,
			"id":   id,
		})

	case r.Method == http.MethodPost && r.URL.Path == "/conversations":
		b.convs++
		json.NewEncoder(w).Encode(map[string]any{
			"conversation": map[string]string{"id": fmt.Sprintf("c%d", b.convs), "createdAt": b.now()},
		})

	case r.Method == http.MethodPost && r.URL.Path == "/messages":
		var req struct {
			Payload        botapi.Payload `json:"payload"`
			ConversationID string         `json:"conversationId"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		userMsg := b.add(req.ConversationID, r.Header.Get("X-User-Key"), req.Payload)
		b.add(req.ConversationID, "botpress", botapi.Payload{Type: "text", Text: "echo: " + req.Payload.Text})
		json.NewEncoder(w).Encode(map[string]any{"message": userMsg})

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/conversations/"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/conversations/"), "/messages")
		msgs := b.messages[id]
		if msgs == nil {
			msgs = []botapi.RawMessage{}
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": msgs, "meta": map[string]any{}})

	default:
		http.NotFound(w, r)
	}
}

func (b *echoBot) now() string {
	b.seq++
	return time.Date(2024, 5, 1, 12, 0, b.seq, 0, time.UTC).Format(time.RFC3339Nano)
}

func (b *echoBot) add(conv, userID string, p botapi.Payload) botapi.RawMessage {
	if b.messages == nil {
		b.messages = map[string][]botapi.RawMessage{}
	}
	msg := botapi.RawMessage{
		ID:             fmt.Sprintf("srv%d", b.seq+1),
		ConversationID: conv,
		UserID:         userID,
		Payload:        p,
		CreatedAt:      b.now(),
	}
	b.messages[conv] = append(b.messages[conv], msg)
	return msg
}

type testAPI struct {
	t       *testing.T
	server  *httptest.Server
	manager *chat.Manager
	bot     *echoBot
	token   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := logger.Nop()

	echo := &echoBot{}
	bot := httptest.NewServer(echo)
	t.Cleanup(bot.Close)

	client, err := botapi.NewClient(botapi.Config{BaseURL: bot.URL}, log)
	require.NoError(t, err)

	provider, err := auth.NewLocalProvider(auth.LocalConfig{Secret: "s3cret", BcryptCost: bcrypt.MinCost}, log)
	require.NoError(t, err)

	store := history.NewService(history.NewMemoryBackend(), history.Options{}, log)
	manager := chat.NewManager(client, store, chat.ManagerOptions{PollInterval: 10 * time.Millisecond}, log)
	t.Cleanup(manager.Shutdown)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Manager:   manager,
		Provider:  provider,
		Heartbeat: 50 * time.Millisecond,
		Logger:    log,
	}))
	t.Cleanup(srv.Close)

	api := &testAPI{t: t, server: srv, manager: manager, bot: echo}
	var sess auth.Session
	status := api.do(http.MethodPost, "/api/v1/auth/signup", model.CredentialsRequest{Email: "alice@example.com", Password: "hunter22"}, &sess)
	require.Equal(t, http.StatusCreated, status)
	api.token = sess.IDToken
	return api
}

func (a *testAPI) do(method, path string, body, out any) int {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/health", nil, nil))
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/ready", nil, nil))
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyReportsHistory(t *testing.T) {
	h := NewHealthHandler(nil, pingFunc(func(ctx context.Context) error { return nil }))
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"history":"ok"`)

	h = NewHealthHandler(nil, pingFunc(func(ctx context.Context) error { return errors.New("database is locked") }))
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")
}

func TestSessionRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	api.token = ""
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/v1/session", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/v1/history", nil, nil))
}

func TestAuthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	var sess auth.Session
	assert.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/auth/signin",
		model.CredentialsRequest{Email: "alice@example.com", Password: "hunter22"}, &sess))
	assert.NotEmpty(t, sess.IDToken)

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/api/v1/auth/signin",
		model.CredentialsRequest{Email: "alice@example.com", Password: "wrong"}, nil))
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, "/api/v1/auth/signup",
		model.CredentialsRequest{Email: "alice@example.com", Password: "hunter22"}, nil))
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/v1/auth/signup",
		model.CredentialsRequest{Email: "bob@example.com", Password: "1"}, nil))
	assert.Equal(t, http.StatusNotImplemented, api.do(http.MethodPost, "/api/v1/auth/google",
		model.GoogleSignInRequest{IDToken: "x"}, nil))
	assert.Equal(t, http.StatusAccepted, api.do(http.MethodPost, "/api/v1/auth/password-reset",
		model.PasswordResetRequest{Email: "alice@example.com"}, nil))

	var me auth.Identity
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/auth/me", nil, &me))
	assert.Equal(t, "alice@example.com", me.Email)
	assert.False(t, me.EmailVerified)

	assert.Equal(t, http.StatusAccepted, api.do(http.MethodPost, "/api/v1/auth/verification-email", nil, nil))
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/auth/me", nil, &me))
	assert.True(t, me.EmailVerified)
}

func TestSendAndPoll(t *testing.T) {
	api := newTestAPI(t)

	var view model.SessionView
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/session", nil, &view))
	assert.Equal(t, model.StateActive, view.State)
	assert.NotEmpty(t, view.ConversationID)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/v1/session/messages",
		model.SendMessageRequest{Text: "  "}, nil))

	require.Equal(t, http.StatusAccepted, api.do(http.MethodPost, "/api/v1/session/messages",
		model.SendMessageRequest{Text: "Hi"}, &view))
	require.NotEmpty(t, view.Messages)
	assert.Equal(t, "Hi", view.Messages[0].Text)
	assert.Contains(t, []string{"Sending message...", "Message sent", "Updated messages"}, view.Status)

	require.Eventually(t, func() bool {
		api.do(http.MethodGet, "/api/v1/session", nil, &view)
		return len(view.Messages) == 2 && view.Messages[1].Text == "echo: Hi"
	}, waitFor, 20*time.Millisecond)

	assert.False(t, view.Messages[0].IsTemp())
	assert.True(t, view.Messages[0].IsFromUser())
	assert.False(t, view.Messages[1].IsFromUser())
}

func TestSendRespondsBeforeDelivery(t *testing.T) {
	api := newTestAPI(t)

	var view model.SessionView
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/session", nil, &view))

	gate := make(chan struct{})
	release := sync.OnceFunc(func() { close(gate) })
	t.Cleanup(release)
	api.bot.mu.Lock()
	api.bot.sendGate = gate
	api.bot.mu.Unlock()

	require.Equal(t, http.StatusAccepted, api.do(http.MethodPost, "/api/v1/session/messages",
		model.SendMessageRequest{Text: "Hold on"}, &view))
	require.Len(t, view.Messages, 1)
	assert.True(t, view.Messages[0].IsTemp())
	assert.Equal(t, "Sending message...", view.Status)

	release()
	require.Eventually(t, func() bool {
		api.do(http.MethodGet, "/api/v1/session", nil, &view)
		return len(view.Messages) == 2 && view.Messages[1].Text == "echo: Hold on"
	}, waitFor, 20*time.Millisecond)
	assert.False(t, view.Messages[0].IsTemp())
}

func TestSetInputAndReset(t *testing.T) {
	api := newTestAPI(t)

	var view model.SessionView
	require.Equal(t, http.StatusOK, api.do(http.MethodPut, "/api/v1/session/input",
		model.SetInputRequest{Text: "draft"}, &view))
	assert.Equal(t, "draft", view.InputText)
	before := view.ConversationID

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/session/reset", nil, &view))
	assert.NotEqual(t, before, view.ConversationID)
	assert.Empty(t, view.InputText)
	assert.Empty(t, view.Messages)
}

func TestSelectOptionErrors(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/v1/session/messages/m1/options/x", nil, nil))
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPost, "/api/v1/session/messages/m1/options/0", nil, nil))
}

func TestHistoryEndpoints(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/v1/history", nil, nil))

	require.Equal(t, http.StatusAccepted, api.do(http.MethodPost, "/api/v1/session/messages",
		model.SendMessageRequest{Text: "Where is my parcel please?"}, nil))

	var saved model.SavedConversation
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/v1/history", nil, &saved))
	assert.Equal(t, "Where is my parcel p...", saved.Title)

	var list model.ListSavedConversationsResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/history", nil, &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, saved.ID, list.Conversations[0].ID)

	var view model.SessionView
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/session/reset", nil, &view))
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/history/"+saved.ID+"/load", nil, &view))
	assert.Equal(t, saved.ConversationID, view.ConversationID)
	assert.Equal(t, "Loaded conversation: "+saved.Title, view.Status)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodDelete, "/api/v1/history/not-a-uuid", nil, nil))
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/api/v1/history/"+saved.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, "/api/v1/history/"+saved.ID, nil, nil))
}

func TestSignOutEndsSession(t *testing.T) {
	api := newTestAPI(t)

	var view model.SessionView
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/session", nil, &view))
	s, ok := api.manager.Lookup(view.Owner)
	require.True(t, ok)

	require.Equal(t, http.StatusNoContent, api.do(http.MethodPost, "/api/v1/auth/signout", nil, nil))
	assert.Equal(t, model.StateTerminated, s.State())
	_, ok = api.manager.Lookup(view.Owner)
	assert.False(t, ok)
}

func TestStreamSnapshots(t *testing.T) {
	api := newTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		api.server.URL+"/api/v1/session/stream?access_token="+api.token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 64)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		var event string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: ") && event == "snapshot":
				events <- strings.TrimPrefix(line, "data: ")
			case strings.HasPrefix(line, "data: ") && event == "heartbeat":
				events <- "heartbeat"
			}
		}
	}()

	next := func() string {
		select {
		case e, ok := <-events:
			require.True(t, ok, "stream closed")
			return e
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return ""
		}
	}

	var first model.SessionView
	require.NoError(t, json.Unmarshal([]byte(next()), &first))
	assert.Equal(t, model.StateActive, first.State)

	go func() {
		req, _ := http.NewRequest(http.MethodPut, api.server.URL+"/api/v1/session/input",
			strings.NewReader(`{"text":"typing"}`))
		req.Header.Set("Authorization", "Bearer "+api.token)
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
		}
	}()

	sawDraft, sawHeartbeat := false, false
	for !(sawDraft && sawHeartbeat) {
		e := next()
		if e == "heartbeat" {
			sawHeartbeat = true
			continue
		}
		var v model.SessionView
		require.NoError(t, json.Unmarshal([]byte(e), &v))
		if v.InputText == "typing" {
			sawDraft = true
		}
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusFor(&botapi.HTTPError{Op: "send message", StatusCode: 500}))
	assert.Equal(t, http.StatusBadGateway, statusFor(fmt.Errorf("wrapped: %w", &botapi.NetworkError{Op: "x", Err: context.DeadlineExceeded})))
	assert.Equal(t, http.StatusConflict, statusFor(chat.ErrAlreadyInteracted))
	assert.Equal(t, http.StatusNotFound, statusFor(history.ErrNotFound))
	assert.Equal(t, http.StatusUnauthorized, statusFor(auth.ErrUnauthenticated))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}
