package auth

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/pkg/logger"
)

const (
	identityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	secureTokenCerts   = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	certCacheTTL       = time.Hour
)

// FirebaseConfig configures the Firebase Identity Toolkit provider.
type FirebaseConfig struct {
	APIKey    string
	ProjectID string

	// BaseURL and CertsURL override the Google endpoints.
	BaseURL    string
	CertsURL   string
	HTTPClient *http.Client
	Now        func() time.Time
}

// FirebaseProvider talks to the Identity Toolkit REST API and verifies
// Firebase ID tokens against Google's published signing certificates.
type FirebaseProvider struct {
	apiKey    string
	projectID string
	baseURL   string
	certsURL  string
	http      *http.Client
	now       func() time.Time
	log       *logger.Logger

	certMu      sync.Mutex
	certs       map[string]*rsa.PublicKey
	certsExpiry time.Time
}

// NewFirebaseProvider creates a Firebase-backed provider.
func NewFirebaseProvider(cfg FirebaseConfig, log *logger.Logger) (*FirebaseProvider, error) {
	if cfg.APIKey == "" || cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase api key and project id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = identityToolkitURL
	}
	if cfg.CertsURL == "" {
		cfg.CertsURL = secureTokenCerts
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.Global()
	}

	return &FirebaseProvider{
		apiKey:    cfg.APIKey,
		projectID: cfg.ProjectID,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		certsURL:  cfg.CertsURL,
		http:      cfg.HTTPClient,
		now:       cfg.Now,
		log:       log.Component("auth.firebase"),
	}, nil
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type tokenResponse struct {
	IDToken       string `json:"idToken"`
	RefreshToken  string `json:"refreshToken"`
	ExpiresIn     string `json:"expiresIn"`
	LocalID       string `json:"localId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
}

type oobRequest struct {
	RequestType string `json:"requestType"`
	Email       string `json:"email,omitempty"`
	IDToken     string `json:"idToken,omitempty"`
}

type idpRequest struct {
	PostBody            string `json:"postBody"`
	RequestURI          string `json:"requestUri"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`
}

type lookupResponse struct {
	Users []struct {
		LocalID       string `json:"localId"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"emailVerified"`
		DisplayName   string `json:"displayName"`
	} `json:"users"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn signs in with email and password.
func (p *FirebaseProvider) SignIn(ctx context.Context, email, password string) (Session, error) {
	var resp tokenResponse
	if err := p.call(ctx, "accounts:signInWithPassword", passwordRequest{email, password, true}, &resp); err != nil {
		return Session{}, err
	}
	sess := p.session(resp)
	if id, err := p.Reload(ctx, sess.IDToken); err == nil {
		sess.Identity = id
	}
	return sess, nil
}

// SignUp creates an account and sends a verification email. A failure to
// send the email does not fail the sign-up.
func (p *FirebaseProvider) SignUp(ctx context.Context, email, password string) (Session, error) {
	var resp tokenResponse
	if err := p.call(ctx, "accounts:signUp", passwordRequest{email, password, true}, &resp); err != nil {
		return Session{}, err
	}
	sess := p.session(resp)
	if err := p.SendEmailVerification(ctx, sess.IDToken); err != nil {
		p.log.Warn("failed to send verification email", zap.String("uid", sess.Identity.UID), zap.Error(err))
	}
	return sess, nil
}

// SignInWithGoogle exchanges a Google ID token for a Firebase session.
func (p *FirebaseProvider) SignInWithGoogle(ctx context.Context, googleIDToken string) (Session, error) {
	if googleIDToken == "" {
		return Session{}, ErrInvalidToken
	}
	req := idpRequest{
		PostBody:            url.Values{"id_token": {googleIDToken}, "providerId": {"google.com"}}.Encode(),
		RequestURI:          "http://localhost",
		ReturnSecureToken:   true,
		ReturnIdpCredential: true,
	}

	var resp tokenResponse
	if err := p.call(ctx, "accounts:signInWithIdp", req, &resp); err != nil {
		return Session{}, err
	}
	return p.session(resp), nil
}

// ResetPassword sends a password reset email.
func (p *FirebaseProvider) ResetPassword(ctx context.Context, email string) error {
	return p.call(ctx, "accounts:sendOobCode", oobRequest{RequestType: "PASSWORD_RESET", Email: email}, nil)
}

// SendEmailVerification sends a verification email to the token's user.
func (p *FirebaseProvider) SendEmailVerification(ctx context.Context, idToken string) error {
	return p.call(ctx, "accounts:sendOobCode", oobRequest{RequestType: "VERIFY_EMAIL", IDToken: idToken}, nil)
}

// Reload fetches the current account profile.
func (p *FirebaseProvider) Reload(ctx context.Context, idToken string) (Identity, error) {
	var resp lookupResponse
	if err := p.call(ctx, "accounts:lookup", map[string]string{"idToken": idToken}, &resp); err != nil {
		return Identity{}, err
	}
	if len(resp.Users) == 0 {
		return Identity{}, ErrInvalidToken
	}
	u := resp.Users[0]
	return Identity{
		UID:           u.LocalID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		DisplayName:   u.DisplayName,
	}, nil
}

type firebaseClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Verify validates a Firebase ID token locally.
func (p *FirebaseProvider) Verify(ctx context.Context, idToken string) (Identity, error) {
	claims := &firebaseClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims,
		func(token *jwt.Token) (interface{}, error) {
			kid, _ := token.Header["kid"].(string)
			return p.publicKey(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(p.projectID),
		jwt.WithIssuer("https://securetoken.google.com/"+p.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{
		UID:           claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		DisplayName:   claims.Name,
	}, nil
}

func (p *FirebaseProvider) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	p.certMu.Lock()
	defer p.certMu.Unlock()

	if key, ok := p.certs[kid]; ok && p.now().Before(p.certsExpiry) {
		return key, nil
	}

	certs, err := p.fetchCerts(ctx)
	if err != nil {
		return nil, err
	}
	p.certs = certs
	p.certsExpiry = p.now().Add(certCacheTTL)

	key, ok := certs[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

func (p *FirebaseProvider) fetchCerts(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.certsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch signing certificates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch signing certificates: HTTP %d", resp.StatusCode)
	}

	var pems map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&pems); err != nil {
		return nil, fmt.Errorf("decode signing certificates: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(pems))
	for kid, pem := range pems {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			p.log.Warn("skipping unparseable signing certificate", zap.String("kid", kid), zap.Error(err))
			continue
		}
		keys[kid] = key
	}
	return keys, nil
}

func (p *FirebaseProvider) session(resp tokenResponse) Session {
	expiresIn, _ := strconv.Atoi(resp.ExpiresIn)
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return Session{
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    p.now().Add(time.Duration(expiresIn) * time.Second),
		Identity: Identity{
			UID:           resp.LocalID,
			Email:         resp.Email,
			EmailVerified: resp.EmailVerified,
			DisplayName:   resp.DisplayName,
		},
	}
}

func (p *FirebaseProvider) call(ctx context.Context, method string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := p.baseURL + "/" + method + "?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity toolkit %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("identity toolkit %s: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return mapFirebaseError(apiErr.Error.Message)
		}
		return fmt.Errorf("identity toolkit %s: HTTP %d", method, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("identity toolkit %s: decode response: %w", method, err)
	}
	return nil
}

// mapFirebaseError turns an Identity Toolkit error message such as
// "WEAK_PASSWORD : Password should be at least 6 characters" into a sentinel.
func mapFirebaseError(msg string) error {
	code := msg
	if i := strings.IndexAny(msg, " :"); i >= 0 {
		code = msg[:i]
	}

	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL", "USER_DISABLED":
		return fmt.Errorf("%w (%s)", ErrInvalidCredentials, code)
	case "EMAIL_EXISTS":
		return ErrEmailExists
	case "WEAK_PASSWORD":
		return ErrWeakPassword
	case "INVALID_ID_TOKEN", "TOKEN_EXPIRED", "USER_NOT_FOUND", "CREDENTIAL_TOO_OLD_LOGIN_AGAIN":
		return fmt.Errorf("%w (%s)", ErrInvalidToken, code)
	default:
		return fmt.Errorf("identity toolkit: %s", msg)
	}
}
