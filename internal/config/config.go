// Package config loads the advisor configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/suraksha-advisor-go/internal/infra/resilience"

	"github.com/kelseyhightower/envconfig"
)

// Session backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// DefaultSessionSecret is the shipped SESSION_SECRET. Tokens signed with it
// can be forged by anyone who has read this file.
const DefaultSessionSecret = "advisor-default-dev-secret-change-me"

// Config holds all application configuration.
// Values are loaded from environment variables with defaults.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Text generation (Gemini)
	GeminiBaseURL   string  `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	GeminiModel     string  `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiAPIKey    string  `envconfig:"GEMINI_API_KEY"`
	Temperature     float64 `envconfig:"GEMINI_TEMPERATURE" default:"0.4"`
	MaxOutputTokens int     `envconfig:"GEMINI_MAX_OUTPUT_TOKENS" default:"1024"`

	// HTTP client
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`

	// Resilience
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
	InitialBackoff time.Duration `envconfig:"INITIAL_BACKOFF" default:"1s"`
	JitterMax      time.Duration `envconfig:"BACKOFF_JITTER_MAX" default:"1s"`
	MaxConcurrency int           `envconfig:"MAX_CONCURRENCY" default:"50"`
	TurnTimeout    time.Duration `envconfig:"TURN_TIMEOUT" default:"45s"`

	// Conversation
	HistoryLimit    int    `envconfig:"HISTORY_LIMIT" default:"8"`
	DefaultLanguage string `envconfig:"DEFAULT_LANGUAGE" default:"en"`

	// Catalog
	CatalogTTL time.Duration `envconfig:"CATALOG_TTL" default:"1m"`

	// Observability
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Supabase
	SupabaseURL        string `envconfig:"SUPABASE_URL"`
	SupabaseAnonKey    string `envconfig:"SUPABASE_ANON_KEY"`
	SupabaseServiceKey string `envconfig:"SUPABASE_SERVICE_ROLE_KEY"`
	UseSupabase        bool   `envconfig:"USE_SUPABASE" default:"true"`

	// Sessions
	SessionBackend string        `envconfig:"SESSION_BACKEND" default:"memory"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	RedisURL       string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`

	// Session cookie (JWT)
	SessionSecret    string        `envconfig:"SESSION_SECRET" default:"advisor-default-dev-secret-change-me"`
	SessionCookieTTL time.Duration `envconfig:"SESSION_COOKIE_TTL" default:"24h"`

	// Identity: header set by the authenticating proxy, or the demo-only
	// user_id body field.
	UserIDHeader      string `envconfig:"USER_ID_HEADER"`
	AllowClientUserID bool   `envconfig:"ALLOW_CLIENT_USER_ID" default:"false"`

	// CORS for the chat widget
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// Inbound rate limit per session
	RatePerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30"`
	RateBurst     int `envconfig:"RATE_LIMIT_BURST" default:"5"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	c.SessionBackend = strings.ToLower(strings.TrimSpace(c.SessionBackend))
	if c.SessionBackend == "" {
		c.SessionBackend = SessionBackendMemory
	}
	switch c.SessionBackend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return fmt.Errorf("config: SESSION_BACKEND must be %q or %q, got %q",
			SessionBackendMemory, SessionBackendRedis, c.SessionBackend)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("config: HISTORY_LIMIT must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: MAX_RETRIES must not be negative")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("config: TURN_TIMEOUT must be positive")
	}
	backoff := resilience.Config{InitialBackoff: c.InitialBackoff, JitterMax: c.JitterMax}.Backoff()
	if worst := backoff.MaxTotal(c.MaxRetries); worst >= c.TurnTimeout {
		return fmt.Errorf("config: %d retries can back off for %s, TURN_TIMEOUT %s must be longer",
			c.MaxRetries, worst, c.TurnTimeout)
	}
	if c.UserIDHeader != "" && c.UsesDefaultSessionSecret() {
		return fmt.Errorf("config: USER_ID_HEADER requires a SESSION_SECRET other than the default")
	}
	if c.UserIDHeader != "" && c.AllowClientUserID {
		return fmt.Errorf("config: USER_ID_HEADER and ALLOW_CLIENT_USER_ID are exclusive")
	}
	return nil
}

// UsesDefaultSessionSecret reports whether session tokens are signed with
// the shipped secret.
func (c *Config) UsesDefaultSessionSecret() bool {
	return c.SessionSecret == DefaultSessionSecret
}

// SupabaseEnabled reports whether catalog and policies come from Supabase.
func (c *Config) SupabaseEnabled() bool {
	return c.UseSupabase && c.SupabaseURL != ""
}
