package observability

import (
	"time"

	"github.com/boddenberg/suraksha-advisor-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Turn outcomes used as the status label.
const (
	TurnOK     = "ok"
	TurnFailed = "failed"
)

// Metrics holds all Prometheus metrics for the advisor.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec
	turnsTotal      *prometheus.CounterVec
	throttleRetries prometheus.Counter
	completions     *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "advisor_request_duration_seconds",
				Help:    "Duration of operations (turns, upstream calls).",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_turns_total",
				Help: "Chat turns processed, by route and outcome.",
			},
			[]string{"route", "status"},
		),
		throttleRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "advisor_throttle_retries_total",
				Help: "Retries performed after the completion service throttled a call.",
			},
		),
		completions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_completions_total",
				Help: "Completion calls by result class.",
			},
			[]string{"result"},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_inbound_rate_limited_total",
				Help: "Inbound requests rejected by the per-session limiter.",
			},
			[]string{"route"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// RecordTurn counts one turn by route and status.
func (m *Metrics) RecordTurn(route, status string) {
	m.turnsTotal.WithLabelValues(route, status).Inc()
}

// IncrThrottleRetry counts one backoff retry.
func (m *Metrics) IncrThrottleRetry() {
	m.throttleRetries.Inc()
}

// RecordCompletion counts one completion call by result class
// (success, rate_limited, upstream, malformed, network, timeout, circuit_open).
func (m *Metrics) RecordCompletion(result string) {
	m.completions.WithLabelValues(result).Inc()
}

// IncrRateLimited counts one inbound request rejected by the limiter.
func (m *Metrics) IncrRateLimited(route string) {
	m.rateLimited.WithLabelValues(route).Inc()
}

// Route labels of advisor_turns_total, kept in sync with service.Route.String.
var turnRoutes = []string{"start_survey", "continue_survey", "general_query", "recommendation"}

// GetAdvisorSnapshot returns a snapshot of the advisor metrics suitable for
// the GET /v1/metrics/advisor endpoint.
func (m *Metrics) GetAdvisorSnapshot() *domain.AdvisorMetrics {
	var total, failed, survey float64
	for _, route := range turnRoutes {
		ok := getCounterValue(m.turnsTotal.WithLabelValues(route, TurnOK))
		bad := getCounterValue(m.turnsTotal.WithLabelValues(route, TurnFailed))
		total += ok + bad
		failed += bad
		if route == "start_survey" || route == "continue_survey" {
			survey += ok + bad
		}
	}

	var completions float64
	for _, result := range []string{"success", "rate_limited", "upstream", "malformed", "network", "timeout", "circuit_open"} {
		completions += getCounterValue(m.completions.WithLabelValues(result))
	}

	promptTokens := getCounterValue(m.tokensUsed.WithLabelValues("prompt"))
	completionTokens := getCounterValue(m.tokensUsed.WithLabelValues("completion"))
	successes := getCounterValue(m.completions.WithLabelValues("success"))

	avgTokens := float64(0)
	if successes > 0 {
		avgTokens = (promptTokens + completionTokens) / successes
	}
	errorRate := float64(0)
	if total > 0 {
		errorRate = failed / total
	}

	return &domain.AdvisorMetrics{
		TotalTurns:          int64(total),
		SurveyTurns:         int64(survey),
		CompletionTurns:     int64(completions),
		FailedTurns:         int64(failed),
		ErrorRate:           errorRate,
		ThrottleRetries:     int64(getCounterValue(m.throttleRetries)),
		AvgTokensPerRequest: avgTokens,
		Period:              "all_time",
	}
}

// getCounterValue extracts the current float64 value of a counter.
func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
