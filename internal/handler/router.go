package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/celia/internal/auth"
	"github.com/capitalize-ai/celia/internal/chat"
	"github.com/capitalize-ai/celia/internal/middleware"
	natsclient "github.com/capitalize-ai/celia/internal/nats"
	"github.com/capitalize-ai/celia/pkg/logger"
)

// RouterConfig holds the router's collaborators.
type RouterConfig struct {
	Manager  *chat.Manager
	Provider auth.Provider
	// NATS and History are checked by /ready when set.
	NATS    *natsclient.Client
	History Pinger

	RateLimitRequests int
	RateLimitWindow   time.Duration
	Heartbeat         time.Duration
	AllowedOrigins    []string

	Logger *logger.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 120
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	healthHandler := NewHealthHandler(cfg.NATS, cfg.History)
	authHandler := NewAuthHandler(cfg.Provider, cfg.Manager, log.Component("handler.auth"))
	sessionHandler := NewSessionHandler(cfg.Manager, log.Component("handler.session"))
	historyHandler := NewHistoryHandler(cfg.Manager, log.Component("handler.history"))
	streamHandler := NewStreamHandler(cfg.Manager, cfg.Heartbeat, log.Component("handler.stream"))

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins...))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
				r.Post("/signin", authHandler.SignIn)
				r.Post("/signup", authHandler.SignUp)
				r.Post("/google", authHandler.Google)
				r.Post("/password-reset", authHandler.PasswordReset)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(cfg.Provider))
				r.Use(middleware.TrackUser)
				r.Get("/me", authHandler.Me)
				r.Post("/verification-email", authHandler.VerificationEmail)
				r.Post("/signout", authHandler.SignOut)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Provider))
			r.Use(middleware.TrackUser)
			r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Route("/session", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Post("/retry", sessionHandler.Retry)
				r.Post("/reset", sessionHandler.Reset)
				r.Put("/input", sessionHandler.SetInput)
				r.Post("/messages", sessionHandler.Send)
				r.Post("/messages/{id}/options/{index}", sessionHandler.SelectOption)
				r.Get("/stream", streamHandler.Stream)
			})

			r.Route("/history", func(r chi.Router) {
				r.Get("/", historyHandler.List)
				r.Post("/", historyHandler.Save)
				r.Delete("/{id}", historyHandler.Delete)
				r.Post("/{id}/load", historyHandler.Load)
			})
		})
	})

	return r
}
