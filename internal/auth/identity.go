// Package auth authenticates app users and carries their identity through
// request contexts.
package auth

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnauthenticated    = errors.New("auth: not signed in")
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrEmailExists        = errors.New("auth: email already registered")
	ErrWeakPassword       = errors.New("auth: password is too weak")
	ErrUnsupported        = errors.New("auth: operation not supported by this provider")
	ErrInvalidToken       = errors.New("auth: invalid token")
)

// Identity is a signed-in app user.
type Identity struct {
	UID           string `json:"uid"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	DisplayName   string `json:"display_name,omitempty"`
}

// Session is the result of a successful sign-in.
type Session struct {
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     Identity  `json:"identity"`
}

// Provider is an identity provider.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	// SignUp registers a user and requests a verification email.
	SignUp(ctx context.Context, email, password string) (Session, error)
	SignInWithGoogle(ctx context.Context, googleIDToken string) (Session, error)
	ResetPassword(ctx context.Context, email string) error
	SendEmailVerification(ctx context.Context, idToken string) error
	// Reload fetches the current profile, e.g. to observe email verification.
	Reload(ctx context.Context, idToken string) (Identity, error)
	// Verify validates an ID token and returns its identity.
	Verify(ctx context.Context, idToken string) (Identity, error)
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity carried by ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || id.UID == "" {
		return Identity{}, false
	}
	return id, true
}

// UID returns the uid carried by ctx, or "".
func UID(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UID
}
