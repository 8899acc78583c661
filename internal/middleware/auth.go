// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/capitalize-ai/celia/internal/auth"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// TokenKey is the context key for the caller's raw ID token.
	TokenKey ContextKey = "id_token"
)

// TokenVerifier validates ID tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (auth.Identity, error)
}

// Auth creates ID-token authentication middleware. The token comes from the
// Authorization header, or from the access_token query parameter for
// EventSource clients that cannot set headers.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			identity, err := verifier.Verify(r.Context(), tokenString)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := auth.WithIdentity(r.Context(), identity)
			ctx = context.WithValue(ctx, TokenKey, tokenString)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		token := r.URL.Query().Get("access_token")
		return token, token != ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetUserID gets the signed-in uid from context.
func GetUserID(ctx context.Context) string {
	return auth.UID(ctx)
}

// GetToken gets the caller's ID token from context.
func GetToken(ctx context.Context) string {
	if v, ok := ctx.Value(TokenKey).(string); ok {
		return v
	}
	return ""
}

// RequireVerifiedEmail rejects identities whose email is not verified.
func RequireVerifiedEmail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok || !id.EmailVerified {
			http.Error(w, `{"error":"email not verified"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
