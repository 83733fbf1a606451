package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/suraksha-advisor-go/internal/chat/domain"
	maindomain "github.com/boddenberg/suraksha-advisor-go/internal/domain"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/observability"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// tracer is the OpenTelemetry tracer for the chat/infra module.
var tracer = otel.Tracer("chat/infra")

const (
	serviceName  = "gemini"
	maxBodyBytes = 1 << 20
	logBodyBytes = 512
)

// ============================================================
// CompletionClient — Gemini generateContent over HTTP
// ============================================================
//
//	POST {baseURL}/v1beta/models/{model}:generateContent
//	Request:  {"contents":[{"role":"user","parts":[{"text":"..."}]}, ...],
//	           "generationConfig":{"temperature":0.4,"maxOutputTokens":1024}}
//	Response: {"candidates":[{"content":{"parts":[{"text":"..."}]}}],
//	           "usageMetadata":{...}}
//
// Throttling (HTTP 429 or status RESOURCE_EXHAUSTED) is retried with
// exponential backoff; any other error status fails at once. The whole
// retry sequence runs inside the circuit breaker and a bulkhead slot.

// CompletionConfig holds the upstream knobs.
type CompletionConfig struct {
	BaseURL         string
	Model           string
	APIKey          string
	Temperature     float64
	MaxOutputTokens int
	MaxRetries      int
	Backoff         resilience.Backoff
}

// CompletionClient implements port.Completer.
type CompletionClient struct {
	httpClient *http.Client
	cfg        CompletionConfig
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	sleep      func(ctx context.Context, d time.Duration) error
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// Option customizes a CompletionClient.
type Option func(*CompletionClient)

// WithSleeper replaces the backoff wait, e.g. to record delays in tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *CompletionClient) { c.sleep = sleep }
}

// NewCompletionClient creates the client.
func NewCompletionClient(
	httpClient *http.Client,
	cfg CompletionConfig,
	cb *gobreaker.CircuitBreaker,
	bulkhead *resilience.Bulkhead,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *CompletionClient {
	c := &CompletionClient{
		httpClient: httpClient,
		cfg:        cfg,
		cb:         cb,
		bulkhead:   bulkhead,
		sleep:      resilience.Sleep,
		metrics:    metrics,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- Wire types ---

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// --- Attempts ---

type attemptKind int

const (
	attemptSuccess attemptKind = iota
	attemptThrottled
	attemptFailed
)

// attemptResult is the tagged outcome of a single HTTP call.
type attemptResult struct {
	kind attemptKind
	body []byte
	err  error
}

type retryOutcome struct {
	body    []byte
	retries int
}

// Complete sends history plus prompt and returns the validated reply.
func (c *CompletionClient) Complete(ctx context.Context, history []domain.Turn, prompt string) (*domain.Completion, error) {
	ctx, span := tracer.Start(ctx, "CompletionClient.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.cfg.Model),
		attribute.Int("llm.history_turns", len(history)),
	)

	completion, err := c.complete(ctx, history, prompt)
	c.metrics.RecordCompletion(resultClass(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, resultClass(err))
		c.metrics.IncrExternalError(serviceName)
		return nil, err
	}

	span.SetAttributes(attribute.Int("llm.retries", completion.Retries))
	c.metrics.RecordTokens(completion.PromptTokens, completion.CompletionTokens)
	return completion, nil
}

func (c *CompletionClient) complete(ctx context.Context, history []domain.Turn, prompt string) (*domain.Completion, error) {
	payload, err := json.Marshal(c.buildRequest(history, prompt))
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &maindomain.ErrTimeout{Operation: "completion: waiting for a free slot"}
	}
	defer c.bulkhead.Release()

	// Only transport-level outcomes count against the breaker; response
	// validation happens after it.
	result, err := c.cb.Execute(func() (any, error) {
		return c.retryThrottled(ctx, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &maindomain.ErrCircuitOpen{Service: serviceName}
		}
		return nil, err
	}

	outcome := result.(*retryOutcome)
	completion, err := extract(outcome.body)
	if err != nil {
		c.logger.Warn("completion: unusable response",
			zap.String("reason", err.Error()),
			zap.String("body", truncate(outcome.body, logBodyBytes)),
		)
		return nil, err
	}
	completion.Retries = outcome.retries
	return completion, nil
}

// retryThrottled is a bounded loop over attempt. Only throttling is retried.
func (c *CompletionClient) retryThrottled(ctx context.Context, payload []byte) (*retryOutcome, error) {
	var waited time.Duration
	for n := 0; ; n++ {
		r := c.attempt(ctx, payload)
		switch r.kind {
		case attemptSuccess:
			return &retryOutcome{body: r.body, retries: n}, nil
		case attemptFailed:
			return nil, r.err
		}

		if n >= c.cfg.MaxRetries {
			c.logger.Warn("completion: throttled, retries exhausted",
				zap.Int("attempts", n+1),
				zap.Duration("waited", waited),
			)
			return nil, &maindomain.ErrRateLimited{Attempts: n + 1, Waited: waited}
		}

		delay := c.cfg.Backoff.Delay(n)
		c.metrics.IncrThrottleRetry()
		c.logger.Warn("completion: throttled, backing off",
			zap.Int("attempt", n+1),
			zap.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, &maindomain.ErrTimeout{Operation: "completion backoff"}
		}
		waited += delay
	}
}

// attempt performs one HTTP call and classifies it. It shares no state with
// other attempts.
func (c *CompletionClient) attempt(ctx context.Context, payload []byte) attemptResult {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return attemptResult{kind: attemptFailed, err: fmt.Errorf("create completion request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return attemptResult{kind: attemptFailed, err: &maindomain.ErrTimeout{Operation: "completion"}}
		}
		return attemptResult{kind: attemptFailed, err: &maindomain.ErrNetwork{Err: err}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return attemptResult{kind: attemptFailed, err: &maindomain.ErrNetwork{Err: err}}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return attemptResult{kind: attemptSuccess, body: body}
	}

	var envelope errorEnvelope
	_ = json.Unmarshal(body, &envelope)

	if resp.StatusCode == http.StatusTooManyRequests || envelope.Error.Status == "RESOURCE_EXHAUSTED" {
		return attemptResult{kind: attemptThrottled}
	}

	c.logger.Warn("completion: upstream error",
		zap.Int("status", resp.StatusCode),
		zap.String("body", truncate(body, logBodyBytes)),
	)
	return attemptResult{kind: attemptFailed, err: &maindomain.ErrUpstream{
		Status: resp.StatusCode,
		Reason: envelope.Error.Status,
	}}
}

// buildRequest maps history roles to Gemini roles and appends the prompt as
// the final user turn. Leading agent turns are dropped because the
// conversation has to open with a user turn.
func (c *CompletionClient) buildRequest(history []domain.Turn, prompt string) generateRequest {
	contents := make([]content, 0, len(history)+1)
	for _, t := range history {
		if !t.Valid() {
			continue
		}
		role := "user"
		if t.Role == domain.RoleAgent {
			role = "model"
		}
		if len(contents) == 0 && role == "model" {
			continue
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: t.Text}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: prompt}}})

	return generateRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			Temperature:     c.cfg.Temperature,
			MaxOutputTokens: c.cfg.MaxOutputTokens,
		},
	}
}

// extract returns the text of the first candidate that has any.
func extract(body []byte) (*domain.Completion, error) {
	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &maindomain.ErrMalformedResponse{Reason: "body is not valid JSON"}
	}
	if len(resp.Candidates) == 0 {
		return nil, &maindomain.ErrMalformedResponse{Reason: "no candidates"}
	}

	for _, cand := range resp.Candidates {
		var sb strings.Builder
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		if text := strings.TrimSpace(sb.String()); text != "" {
			return &domain.Completion{
				Text:             text,
				PromptTokens:     resp.UsageMetadata.PromptTokenCount,
				CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			}, nil
		}
	}
	return nil, &maindomain.ErrMalformedResponse{Reason: "candidates carry no text"}
}

func resultClass(err error) string {
	var (
		rateLimited *maindomain.ErrRateLimited
		upstream    *maindomain.ErrUpstream
		malformed   *maindomain.ErrMalformedResponse
		network     *maindomain.ErrNetwork
		timeout     *maindomain.ErrTimeout
		circuitOpen *maindomain.ErrCircuitOpen
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &rateLimited):
		return "rate_limited"
	case errors.As(err, &circuitOpen):
		return "circuit_open"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &malformed):
		return "malformed"
	case errors.As(err, &network):
		return "network"
	case errors.As(err, &upstream):
		return "upstream"
	default:
		return "upstream"
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
