package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/capitalize-ai/celia/pkg/logger"
)

const (
	localIssuer       = "celia-local"
	minPasswordLength = 6
)

// LocalConfig configures the local provider.
type LocalConfig struct {
	Secret     string
	Expiration time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
}

type localUser struct {
	uid      string
	email    string
	hash     []byte
	verified bool
}

// LocalProvider keeps accounts in memory and issues HS256 tokens. It is
// meant for development and for running without a Firebase project.
type LocalProvider struct {
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
	log    *logger.Logger

	mu      sync.RWMutex
	byEmail map[string]*localUser
	byUID   map[string]*localUser
}

// Claims represents the local token claims.
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// NewLocalProvider creates a local provider.
func NewLocalProvider(cfg LocalConfig, log *logger.Logger) (*LocalProvider, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.Global()
	}

	return &LocalProvider{
		secret:  []byte(cfg.Secret),
		ttl:     cfg.Expiration,
		cost:    cfg.BcryptCost,
		now:     cfg.Now,
		log:     log.Component("auth.local"),
		byEmail: make(map[string]*localUser),
		byUID:   make(map[string]*localUser),
	}, nil
}

// SignUp registers a new account.
func (p *LocalProvider) SignUp(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return Session{}, fmt.Errorf("%w (INVALID_EMAIL)", ErrInvalidCredentials)
	}
	if len(password) < minPasswordLength {
		return Session{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	p.mu.Lock()
	if _, exists := p.byEmail[email]; exists {
		p.mu.Unlock()
		return Session{}, ErrEmailExists
	}
	u := &localUser{uid: uuid.NewString(), email: email, hash: hash}
	p.byEmail[email] = u
	p.byUID[u.uid] = u
	p.mu.Unlock()

	p.log.Info("account created", zap.String("uid", u.uid))
	return p.issue(*u)
}

// SignIn checks the password and issues a token.
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (Session, error) {
	p.mu.RLock()
	u, ok := p.byEmail[normalizeEmail(email)]
	var snapshot localUser
	if ok {
		snapshot = *u
	}
	p.mu.RUnlock()

	if !ok {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(snapshot.hash, []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return p.issue(snapshot)
}

// SignInWithGoogle is not available without Firebase.
func (p *LocalProvider) SignInWithGoogle(ctx context.Context, googleIDToken string) (Session, error) {
	return Session{}, ErrUnsupported
}

// ResetPassword only logs the request; the local provider sends no email.
func (p *LocalProvider) ResetPassword(ctx context.Context, email string) error {
	p.log.Info("password reset requested", zap.String("email", normalizeEmail(email)))
	return nil
}

// SendEmailVerification marks the account as verified straight away.
func (p *LocalProvider) SendEmailVerification(ctx context.Context, idToken string) error {
	id, err := p.Verify(ctx, idToken)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byUID[id.UID]
	if !ok {
		return ErrInvalidToken
	}
	u.verified = true
	return nil
}

// Reload returns the stored profile for the token's user.
func (p *LocalProvider) Reload(ctx context.Context, idToken string) (Identity, error) {
	id, err := p.Verify(ctx, idToken)
	if err != nil {
		return Identity{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.byUID[id.UID]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UID: u.uid, Email: u.email, EmailVerified: u.verified}, nil
}

// Verify validates a local token.
func (p *LocalProvider) Verify(ctx context.Context, idToken string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(idToken, claims,
		func(token *jwt.Token) (interface{}, error) {
			return p.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(localIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{
		UID:           claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}

func (p *LocalProvider) issue(u localUser) (Session, error) {
	now := p.now()
	expiresAt := now.Add(p.ttl)
	claims := Claims{
		Email:         u.email,
		EmailVerified: u.verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    localIssuer,
			Subject:   u.uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}

	return Session{
		IDToken:   signed,
		ExpiresAt: expiresAt,
		Identity:  Identity{UID: u.uid, Email: u.email, EmailVerified: u.verified},
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
