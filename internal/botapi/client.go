package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/pkg/logger"
	"github.com/capitalize-ai/celia/pkg/metrics"
	"github.com/capitalize-ai/celia/pkg/tracing"
)

// Operation names used for errors, metrics and spans.
const (
	OpCreateUser         = "create user"
	OpCreateConversation = "create conversation"
	OpSendMessage        = "send message"
	OpListMessages       = "list messages"
)

const maxResponseBytes = 4 << 20

// Config configures the bot API client.
type Config struct {
	BaseURL string
	// Timeout bounds each call; zero leaves it to the transport.
	Timeout time.Duration
	// Platform is reported in user and conversation metadata.
	Platform   string
	HTTPClient *http.Client
}

// Client issues requests to the bot backend. It holds no session state.
type Client struct {
	baseURL  string
	platform string
	http     *http.Client
	tracer   trace.Tracer
	log      *logger.Logger
}

// NewClient creates a bot API client.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("botapi: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("botapi: invalid base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	platform := cfg.Platform
	if platform == "" {
		platform = "go"
	}
	if log == nil {
		log = logger.Global()
	}

	return &Client{
		baseURL:  base,
		platform: platform,
		http:     httpClient,
		tracer:   tracing.Tracer(),
		log:      log.Component("botapi"),
	}, nil
}

// CreateUser registers a new anonymous chat user.
func (c *Client) CreateUser(ctx context.Context) (User, error) {
	req := createUserRequest{
		Name:  "Celia User",
		Email: "user@example.com",
		Metadata: map[string]string{
			"platform":   c.platform,
			"deviceType": "client",
		},
	}

	var resp createUserResponse
	if err := c.do(ctx, OpCreateUser, http.MethodPost, "/users", "", req, &resp); err != nil {
		return User{}, err
	}

	if resp.Code != 0 && resp.Message != "" {
		return User{}, &HTTPError{Op: OpCreateUser, StatusCode: resp.Code, Body: resp.Message}
	}
	if resp.User == nil || resp.Key == "" {
		return User{}, &DecodeError{Op: OpCreateUser, Err: errors.New("missing user or key")}
	}

	return User{
		Key:       resp.Key,
		RemoteID:  resp.User.ID,
		CreatedAt: resp.User.CreatedAt,
	}, nil
}

// CreateConversation opens a new conversation for userKey.
func (c *Client) CreateConversation(ctx context.Context, userKey string) (Conversation, error) {
	req := createConversationRequest{
		Metadata: map[string]string{"source": c.platform},
	}

	var resp createConversationResponse
	if err := c.do(ctx, OpCreateConversation, http.MethodPost, "/conversations", userKey, req, &resp); err != nil {
		return Conversation{}, err
	}
	if resp.Conversation == nil || resp.Conversation.ID == "" {
		return Conversation{}, &DecodeError{Op: OpCreateConversation, Err: errors.New("missing conversation")}
	}

	return Conversation{
		ID:        resp.Conversation.ID,
		CreatedAt: resp.Conversation.CreatedAt,
	}, nil
}

// SendMessage posts a text message and returns the backend's confirmed copy.
func (c *Client) SendMessage(ctx context.Context, userKey, conversationID, text string) (RawMessage, error) {
	req := sendMessageRequest{
		Payload:        Payload{Type: "text", Text: text},
		ConversationID: conversationID,
	}

	var resp sendMessageResponse
	if err := c.do(ctx, OpSendMessage, http.MethodPost, "/messages", userKey, req, &resp); err != nil {
		return RawMessage{}, err
	}
	if resp.Error != "" {
		return RawMessage{}, &HTTPError{Op: OpSendMessage, StatusCode: resp.Code, Body: resp.Error}
	}
	if resp.Message == nil {
		return RawMessage{}, &DecodeError{Op: OpSendMessage, Err: errors.New("missing message")}
	}

	return *resp.Message, nil
}

// ListMessages returns every message of a conversation in backend order.
func (c *Client) ListMessages(ctx context.Context, userKey, conversationID string) ([]RawMessage, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"

	var resp listMessagesResponse
	if err := c.do(ctx, OpListMessages, http.MethodGet, path, userKey, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		return nil, &DecodeError{Op: OpListMessages, Err: errors.New("missing messages")}
	}

	return *resp.Messages, nil
}

func (c *Client) do(ctx context.Context, op, method, path, userKey string, body, out any) (err error) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "botapi."+strings.ReplaceAll(op, " ", "_"),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("bot.op", op),
			attribute.String("http.method", method),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.log.Debug("bot api call failed", zap.String("op", op), zap.Error(err))
		}
		span.End()
		metrics.RecordBotCall(op, err, time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userKey != "" {
		req.Header.Set("X-User-Key", userKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}
