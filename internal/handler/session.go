// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/internal/chat"
	"github.com/capitalize-ai/celia/internal/middleware"
	"github.com/capitalize-ai/celia/internal/model"
	"github.com/capitalize-ai/celia/pkg/logger"
)

// SessionHandler exposes the caller's conversation session.
type SessionHandler struct {
	manager *chat.Manager
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(manager *chat.Manager, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		logger:  log,
	}
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	s, err := h.manager.Session(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return s, true
}

// Get handles GET /api/v1/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// Retry handles POST /api/v1/session/retry
func (h *SessionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	// The bootstrap outlives a client that hangs up.
	if err := s.Retry(context.WithoutCancel(r.Context())); err != nil {
		h.fail(w, r, "session retry failed", err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// Reset handles POST /api/v1/session/reset
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.Reset(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, "session reset failed", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Send handles POST /api/v1/session/messages
func (h *SessionHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	// Delivery outlives the request; its outcome reaches the client as a
	// status change on the event stream.
	if err := s.SendAsync(r.Context(), req.Text); err != nil {
		h.fail(w, r, "send failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.View())
}

// SetInput handles PUT /api/v1/session/input
func (h *SessionHandler) SetInput(w http.ResponseWriter, r *http.Request) {
	var req model.SetInputRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.SetInput(req.Text)
	writeJSON(w, http.StatusOK, s.View())
}

// SelectOption handles POST /api/v1/session/messages/{id}/options/{index}
func (h *SessionHandler) SelectOption(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid option index")
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.SelectOption(context.WithoutCancel(r.Context()), messageID, index); err != nil {
		h.fail(w, r, "option selection failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.View())
}

func (h *SessionHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	log := middleware.RequestLogger(r.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		log.Warn(msg, zap.Error(err))
	} else {
		log.Debug(msg, zap.Error(err))
	}
	writeError(w, status, err.Error())
}
