package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/internal/chat"
	"github.com/capitalize-ai/celia/internal/middleware"
	"github.com/capitalize-ai/celia/internal/model"
	"github.com/capitalize-ai/celia/pkg/logger"
)

// HistoryHandler handles saved conversation endpoints.
type HistoryHandler struct {
	manager *chat.Manager
	logger  *logger.Logger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(manager *chat.Manager, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{
		manager: manager,
		logger:  log,
	}
}

// List handles GET /api/v1/history
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.manager.ListSaved(ctx, middleware.GetUserID(ctx))
	if err != nil {
		middleware.RequestLogger(ctx, h.logger).Error("failed to list conversations", zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.ListSavedConversationsResponse{
		Conversations: list,
		Total:         len(list),
	})
}

// Save handles POST /api/v1/history
func (h *HistoryHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SaveConversationRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := h.manager.Save(ctx, middleware.GetUserID(ctx), req.Title)
	if err != nil {
		middleware.RequestLogger(ctx, h.logger).Warn("failed to save conversation", zap.Error(err))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// Delete handles DELETE /api/v1/history/{id}
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSavedID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.manager.DeleteSaved(ctx, middleware.GetUserID(ctx), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Load handles POST /api/v1/history/{id}/load
func (h *HistoryHandler) Load(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSavedID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.manager.LoadSaved(ctx, middleware.GetUserID(ctx), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
