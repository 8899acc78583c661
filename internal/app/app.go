// Package app wires the chat client's components from configuration.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/internal/auth"
	"github.com/capitalize-ai/celia/internal/botapi"
	"github.com/capitalize-ai/celia/internal/chat"
	"github.com/capitalize-ai/celia/internal/config"
	"github.com/capitalize-ai/celia/internal/history"
	"github.com/capitalize-ai/celia/internal/llm"
	natsclient "github.com/capitalize-ai/celia/internal/nats"
	"github.com/capitalize-ai/celia/pkg/logger"
)

// App holds the wired components.
type App struct {
	Bot      *botapi.Client
	Auth     auth.Provider
	History  *history.Service
	Manager  *chat.Manager
	Hub      *chat.Hub
	NATS     *natsclient.Client
	Platform string

	log *logger.Logger
}

// New builds every component cfg selects. Callers must Close the result.
func New(ctx context.Context, cfg *config.Config, platform string, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Global()
	}
	a := &App{Platform: platform, log: log}

	bot, err := botapi.NewClient(botapi.Config{
		BaseURL:  cfg.BotAPIURL,
		Timeout:  cfg.BotAPITimeout,
		Platform: platform,
	}, log)
	if err != nil {
		return nil, err
	}
	a.Bot = bot

	if a.Auth, err = newAuthProvider(cfg, log); err != nil {
		return nil, err
	}

	backend, err := a.newHistoryBackend(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.History = history.NewService(backend, history.Options{Retention: cfg.HistoryRetention}, log)

	var titles chat.TitleGenerator
	if cfg.TitleGenerator == config.TitleLLM {
		client, err := llm.FromKeys(cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
		switch {
		case err != nil:
			log.Warn("failed to create LLM client, using default titles", zap.Error(err))
		case client == nil:
			log.Warn("TITLE_GENERATOR=llm but no LLM API key is set, using default titles")
		default:
			titles = llm.NewTitleGenerator(client, "", log)
			log.Info("LLM titles enabled", zap.String("provider", client.Name()))
		}
	}

	a.Hub = chat.NewHub()
	a.Manager = chat.NewManager(bot, a.History, chat.ManagerOptions{
		PollInterval: cfg.PollInterval,
		Titles:       titles,
		Hub:          a.Hub,
	}, log)

	return a, nil
}

func newAuthProvider(cfg *config.Config, log *logger.Logger) (auth.Provider, error) {
	switch cfg.AuthProvider {
	case config.AuthFirebase:
		return auth.NewFirebaseProvider(auth.FirebaseConfig{
			APIKey:    cfg.FirebaseAPIKey,
			ProjectID: cfg.FirebaseProjectID,
		}, log)
	case config.AuthLocal:
		return auth.NewLocalProvider(auth.LocalConfig{
			Secret:     cfg.JWTSecret,
			Expiration: cfg.JWTExpiration,
		}, log)
	default:
		return nil, fmt.Errorf("unknown auth provider %q", cfg.AuthProvider)
	}
}

func (a *App) newHistoryBackend(ctx context.Context, cfg *config.Config) (history.Backend, error) {
	switch cfg.HistoryBackend {
	case config.HistoryMemory:
		return history.NewMemoryBackend(), nil

	case config.HistorySQLite:
		return history.NewSQLiteBackend(cfg.HistorySQLitePath)

	case config.HistoryNATS:
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			Name:     "celia-" + a.Platform,
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Bucket: natsclient.BucketConfig{
				Name:        cfg.NATSKVBucket,
				Description: "Saved chat conversations",
				// Server-side expiry backs up the sweep on List.
				TTL: cfg.HistoryRetention,
			},
		}, a.log)
		if err != nil {
			return nil, err
		}
		a.NATS = nc
		return history.NewKVBackend(nc.Bucket()), nil

	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.HistoryBackend)
	}
}

// Close stops every session and releases storage and connections.
func (a *App) Close() {
	if a.Manager != nil {
		a.Manager.Shutdown()
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.log.Warn("failed to close history store", zap.Error(err))
		}
	}
	if a.NATS != nil {
		a.NATS.Close()
	}
}
