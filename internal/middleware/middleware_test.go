package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/celia/internal/auth"
	"github.com/capitalize-ai/celia/pkg/logger"
)

type verifierFunc func(ctx context.Context, token string) (auth.Identity, error)

func (f verifierFunc) Verify(ctx context.Context, token string) (auth.Identity, error) {
	return f(ctx, token)
}

var staticVerifier = verifierFunc(func(ctx context.Context, token string) (auth.Identity, error) {
	if token != "good" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.Identity{UID: "u1", Email: "a@example.com"}, nil
})

func TestAuth(t *testing.T) {
	var seen auth.Identity
	var seenToken string
	h := Auth(staticVerifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
		seenToken = GetToken(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"malformed", "Token good", "", http.StatusUnauthorized},
		{"invalid", "Bearer bad", "", http.StatusUnauthorized},
		{"valid header", "Bearer good", "", http.StatusOK},
		{"valid query", "", "?access_token=good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = auth.Identity{}
			req := httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "u1", seen.UID)
				assert.Equal(t, "good", seenToken)
			}
		})
	}
}

func TestRequireVerifiedEmail(t *testing.T) {
	h := RequireVerifiedEmail(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UID: "u1"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UID: "u1", EmailVerified: true}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingSetsCorrelationID(t *testing.T) {
	var inner string
	h := Logging(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, inner)
	assert.Equal(t, inner, rec.Header().Get("X-Correlation-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "given")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "given", inner)
}

func TestLoggingCapturesUserAfterAuth(t *testing.T) {
	var holder *requestInfo
	h := Logging(logger.Nop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			holder, _ = r.Context().Value(requestInfoKey).(*requestInfo)
			Auth(staticVerifier)(TrackUser(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))).ServeHTTP(w, r)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, holder)
	assert.Equal(t, "u1", holder.userID)
}

func TestResponseWriterFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	var w http.ResponseWriter = &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	f, ok := w.(http.Flusher)
	require.True(t, ok)
	f.Flush()
	assert.True(t, rec.Flushed)
}

func TestUserRateLimit(t *testing.T) {
	h := UserRateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(uid string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UID: uid}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusOK, do("b"))
}

func TestValidation(t *testing.T) {
	assert.Error(t, ValidateMessageText("   "))
	assert.NoError(t, ValidateMessageText("hi"))
	assert.Error(t, ValidateMessageText(string(make([]rune, maxMessageLength+1))))
	assert.Error(t, ValidateMessageText("\xff\xfe"))

	assert.NoError(t, ValidateSavedID("3f1c9f2e-2c0a-4c1e-9a53-2b0e6f0d8a11"))
	assert.Error(t, ValidateSavedID("nope"))

	assert.NoError(t, ValidateTitle("Orders"))
	assert.Error(t, ValidateEmail("not-an-email"))
	assert.NoError(t, ValidateEmail("a@example.com"))
}

func TestGetTokenEmpty(t *testing.T) {
	assert.Empty(t, GetToken(context.Background()))
	assert.Empty(t, GetUserID(context.Background()))
}
