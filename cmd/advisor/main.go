package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chathandler "github.com/boddenberg/suraksha-advisor-go/internal/chat/handler"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/infra"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/locale"
	chatport "github.com/boddenberg/suraksha-advisor-go/internal/chat/port"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/service"
	"github.com/boddenberg/suraksha-advisor-go/internal/config"
	"github.com/boddenberg/suraksha-advisor-go/internal/handler"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/fixtures"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/observability"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/resilience"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/session"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/supabase"
	"github.com/boddenberg/suraksha-advisor-go/internal/port"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("gemini_model", cfg.GeminiModel),
		zap.Bool("use_supabase", cfg.SupabaseEnabled()),
		zap.String("session_backend", cfg.SessionBackend),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("turn_timeout", cfg.TurnTimeout),
		zap.Int("history_limit", cfg.HistoryLimit),
	)
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY is empty, completion calls will be rejected upstream")
	}
	if cfg.UsesDefaultSessionSecret() {
		logger.Warn("SESSION_SECRET is the shipped default, session tokens can be forged; set it before exposing the server")
	}
	if cfg.AllowClientUserID {
		logger.Warn("ALLOW_CLIENT_USER_ID is on, any caller can read any user's policies; demo use only")
	}

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "suraksha-advisor")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Locale tables ---
	bundle := locale.Default()
	if err := bundle.SetDefault(cfg.DefaultLanguage); err != nil {
		logger.Warn("DEFAULT_LANGUAGE rejected, keeping bundle default",
			zap.String("requested", cfg.DefaultLanguage),
			zap.String("default", bundle.DefaultLanguage),
			zap.Error(err),
		)
	}

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		JitterMax:      cfg.JitterMax,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	completer := infra.NewCompletionClient(
		httpClient,
		infra.CompletionConfig{
			BaseURL:         cfg.GeminiBaseURL,
			Model:           cfg.GeminiModel,
			APIKey:          cfg.GeminiAPIKey,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			MaxRetries:      cfg.MaxRetries,
			Backoff:         resilienceCfg.Backoff(),
		},
		resilience.NewCircuitBreaker("gemini"),
		resilience.NewBulkhead(cfg.MaxConcurrency),
		metrics,
		logger,
	)

	var checks []handler.ReadinessCheck
	var catalog port.CatalogProvider
	var holdings port.HoldingsProvider

	if cfg.SupabaseEnabled() {
		logger.Info("using Supabase as catalog backend", zap.String("supabase_url", cfg.SupabaseURL))
		supabaseClient := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilience.Config{MaxRetries: 2, InitialBackoff: 100 * time.Millisecond},
			logger,
		).WithCatalogCache(cfg.CatalogTTL)
		defer supabaseClient.Close()

		catalog = supabaseClient
		holdings = supabaseClient
		checks = append(checks, handler.ReadinessCheck{Name: "supabase", Ping: supabaseClient.Ping})
	} else {
		logger.Warn("Supabase not configured, serving the fixture catalog")
		catalog = fixtures.NewCatalog(nil)
		holdings = fixtures.NewHoldings(nil, time.Now())
	}

	var sessions chatport.SessionStore
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		store := session.NewRedisStore(rdb, cfg.SessionTTL, logger)
		sessions = store
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Ping: store.Ping})
		logger.Info("using Redis session store")
	default:
		store := session.NewMemoryStore(cfg.SessionTTL)
		defer store.Close()
		sessions = store
		logger.Info("using in-memory session store")
	}

	// --- Services ---
	chatSvc := service.NewChatService(service.Dependencies{
		Completer: completer,
		Sessions:  sessions,
		Catalog:   catalog,
		Holdings:  holdings,
		Bundle:    bundle,
		Metrics:   metrics,
		Logger:    logger,
	}, service.Config{
		HistoryLimit: cfg.HistoryLimit,
		TurnTimeout:  cfg.TurnTimeout,
	})

	// --- Router ---
	identity := chathandler.Identity{
		UserHeader:      cfg.UserIDHeader,
		AllowBodyUserID: cfg.AllowClientUserID,
	}
	router := handler.NewRouter(handler.Dependencies{
		Advisor:        chatSvc,
		Tokens:         chathandler.NewSessionTokens(cfg.SessionSecret, cfg.SessionCookieTTL),
		Identity:       identity,
		Limiter:        handler.NewRateLimiter(cfg.RatePerMinute, cfg.RateBurst),
		Checks:         checks,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        metrics,
		Logger:         logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.TurnTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
