package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// AdvisorMetrics is returned by GET /v1/metrics/advisor.
type AdvisorMetrics struct {
	TotalTurns          int64   `json:"totalTurns"`
	SurveyTurns         int64   `json:"surveyTurns"`
	CompletionTurns     int64   `json:"completionTurns"`
	FailedTurns         int64   `json:"failedTurns"`
	ErrorRate           float64 `json:"errorRate"`
	ThrottleRetries     int64   `json:"throttleRetries"`
	AvgTokensPerRequest float64 `json:"avgTokensPerRequest"`
	Period              string  `json:"period"`
}
