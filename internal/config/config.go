// Package config provides environment configuration for the chat client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// History backends.
const (
	HistoryMemory = "memory"
	HistorySQLite = "sqlite"
	HistoryNATS   = "nats"
)

// Auth providers.
const (
	AuthFirebase = "firebase"
	AuthLocal    = "local"
)

// Title generators.
const (
	TitleHeuristic = "heuristic"
	TitleLLM       = "llm"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Bot backend
	BotAPIURL     string
	BotAPITimeout time.Duration
	PollInterval  time.Duration

	// History store
	HistoryBackend    string
	HistorySQLitePath string
	HistoryRetention  time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSKVBucket string

	// Auth
	AuthProvider      string
	FirebaseAPIKey    string
	FirebaseProjectID string
	JWTSecret         string
	JWTExpiration     time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	TitleGenerator  string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string
	LogFile  string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),

		// Bot backend
		BotAPIURL:     getEnv("BOT_API_URL", ""),
		BotAPITimeout: getDurationEnv("BOT_API_TIMEOUT", 0),
		PollInterval:  getDurationEnv("POLL_INTERVAL", 2*time.Second),

		// History
		HistoryBackend:    strings.ToLower(getEnv("HISTORY_BACKEND", HistoryMemory)),
		HistorySQLitePath: getEnv("HISTORY_SQLITE_PATH", "celia.db"),
		HistoryRetention:  getDurationEnv("HISTORY_RETENTION", 30*24*time.Hour),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSKVBucket: getEnv("NATS_KV_BUCKET", "celia_history"),

		// Auth
		AuthProvider:      strings.ToLower(getEnv("AUTH_PROVIDER", AuthLocal)),
		FirebaseAPIKey:    getEnv("FIREBASE_API_KEY", ""),
		FirebaseProjectID: getEnv("FIREBASE_PROJECT_ID", ""),
		JWTSecret:         getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration:     getDurationEnv("JWT_EXPIRATION", time.Hour),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		TitleGenerator:  strings.ToLower(getEnv("TITLE_GENERATOR", TitleHeuristic)),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports combinations that cannot produce a working client.
func (c *Config) Validate() error {
	var errs []error

	if c.BotAPIURL == "" {
		errs = append(errs, errors.New("BOT_API_URL is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval))
	}
	if c.HistoryRetention <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_RETENTION must be positive, got %s", c.HistoryRetention))
	}

	switch c.HistoryBackend {
	case HistoryMemory:
	case HistorySQLite:
		if c.HistorySQLitePath == "" {
			errs = append(errs, errors.New("HISTORY_SQLITE_PATH is required for the sqlite backend"))
		}
	case HistoryNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required for the nats backend"))
		}
		if c.NATSKVBucket == "" {
			errs = append(errs, errors.New("NATS_KV_BUCKET is required for the nats backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown HISTORY_BACKEND %q", c.HistoryBackend))
	}

	switch c.AuthProvider {
	case AuthFirebase:
		if c.FirebaseAPIKey == "" || c.FirebaseProjectID == "" {
			errs = append(errs, errors.New("FIREBASE_API_KEY and FIREBASE_PROJECT_ID are required for the firebase provider"))
		}
	case AuthLocal:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required for the local provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_PROVIDER %q", c.AuthProvider))
	}

	switch c.TitleGenerator {
	case TitleHeuristic, TitleLLM:
	default:
		errs = append(errs, fmt.Errorf("unknown TITLE_GENERATOR %q", c.TitleGenerator))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
