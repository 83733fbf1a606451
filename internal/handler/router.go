package handler

import (
	"context"
	"net/http"
	"time"

	chathandler "github.com/boddenberg/suraksha-advisor-go/internal/chat/handler"
	"github.com/boddenberg/suraksha-advisor-go/internal/domain"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const checkTimeout = 2 * time.Second

// ReadinessCheck probes one dependency (session store, catalog backend).
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Dependencies are the collaborators of the HTTP surface.
type Dependencies struct {
	Advisor        chathandler.Advisor
	Tokens         *chathandler.SessionTokens
	Identity       chathandler.Identity
	Limiter        *RateLimiter
	Checks         []ReadinessCheck
	AllowedOrigins []string
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(deps.Checks))
	r.Get("/readyz", readyzHandler(deps.Checks, logger))
	r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/advisor", advisorMetricsHandler(deps.Metrics))

		if deps.Advisor != nil {
			var turnMiddleware []func(http.Handler) http.Handler
			if deps.Limiter != nil {
				turnMiddleware = append(turnMiddleware, deps.Limiter.Middleware("chat_messages", deps.Metrics, logger))
			}
			r.Route("/chat", func(r chi.Router) {
				chathandler.Mount(r, deps.Advisor, deps.Tokens, deps.Identity, logger, turnMiddleware...)
			})
		}
	})

	return r
}

// ============================================================
// Operational handlers
// ============================================================

func runChecks(ctx context.Context, checks []ReadinessCheck) []domain.ServiceHealth {
	now := time.Now().Format(time.RFC3339)
	services := []domain.ServiceHealth{
		{Name: "advisor-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
	}

	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := time.Now()
		err := c.Ping(cctx)
		cancel()

		status := "healthy"
		if err != nil {
			status = "unhealthy"
		}
		services = append(services, domain.ServiceHealth{
			Name:        c.Name,
			Status:      status,
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: now,
		})
	}
	return services
}

// healthzHandler is liveness: always 200, dependency trouble shows as degraded.
func healthzHandler(checks []ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := runChecks(r.Context(), checks)

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

// readyzHandler answers 503 while any dependency is unreachable.
func readyzHandler(checks []ReadinessCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := runChecks(r.Context(), checks)
		for _, s := range services {
			if s.Status != "healthy" {
				logger.Warn("readiness check failed", zap.String("service", s.Name))
				writeJSON(w, http.StatusServiceUnavailable, domain.HealthStatus{Status: "unhealthy", Services: services})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func advisorMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetAdvisorSnapshot())
	}
}
