package handler

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/internal/auth"
	"github.com/capitalize-ai/celia/internal/chat"
	"github.com/capitalize-ai/celia/internal/middleware"
	"github.com/capitalize-ai/celia/internal/model"
	"github.com/capitalize-ai/celia/pkg/logger"
)

// AuthHandler handles account endpoints.
type AuthHandler struct {
	provider auth.Provider
	manager  *chat.Manager
	logger   *logger.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(provider auth.Provider, manager *chat.Manager, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		manager:  manager,
		logger:   log,
	}
}

// SignIn handles POST /api/v1/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req model.CredentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateEmail(req.Email); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	sess, err := h.provider.SignIn(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		h.logger.Debug("sign-in failed", zap.Error(err))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// SignUp handles POST /api/v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req model.CredentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateEmail(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.provider.SignUp(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// Google handles POST /api/v1/auth/google
func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	var req model.GoogleSignInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.provider.SignInWithGoogle(r.Context(), req.IDToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// PasswordReset handles POST /api/v1/auth/password-reset
func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req model.PasswordResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateEmail(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.provider.ResetPassword(r.Context(), strings.TrimSpace(req.Email)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "password reset email sent"})
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := h.provider.Reload(ctx, middleware.GetToken(ctx))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// VerificationEmail handles POST /api/v1/auth/verification-email
func (h *AuthHandler) VerificationEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.provider.SendEmailVerification(ctx, middleware.GetToken(ctx)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "verification email sent"})
}

// SignOut handles POST /api/v1/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.manager.End(middleware.GetUserID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
