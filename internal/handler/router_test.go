package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	chatdomain "github.com/boddenberg/suraksha-advisor-go/internal/chat/domain"
	chathandler "github.com/boddenberg/suraksha-advisor-go/internal/chat/handler"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/locale"
	chatport "github.com/boddenberg/suraksha-advisor-go/internal/chat/port"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/service"
	"github.com/boddenberg/suraksha-advisor-go/internal/domain"
	"github.com/boddenberg/suraksha-advisor-go/internal/handler"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/fixtures"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/observability"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/session"

	"go.uber.org/zap"
)

// stubCompleter answers every prompt with a fixed text.
type stubCompleter struct {
	text string
}

func (s *stubCompleter) Complete(_ context.Context, _ []chatdomain.Turn, _ string) (*chatdomain.Completion, error) {
	return &chatdomain.Completion{Text: s.text}, nil
}

// recordingCompleter keeps the prompts it was given.
type recordingCompleter struct {
	mu      sync.Mutex
	prompts []string
}

func (c *recordingCompleter) Complete(_ context.Context, _ []chatdomain.Turn, prompt string) (*chatdomain.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	return &chatdomain.Completion{Text: "You hold one health policy."}, nil
}

func (c *recordingCompleter) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompts[len(c.prompts)-1]
}

type testServer struct {
	router  http.Handler
	metrics *observability.Metrics
}

func newTestServer(t *testing.T, completion string, limiter *handler.RateLimiter, checks ...handler.ReadinessCheck) *testServer {
	t.Helper()
	return buildTestServer(t, &stubCompleter{text: completion}, chathandler.Identity{}, limiter, checks...)
}

func buildTestServer(t *testing.T, completer chatport.Completer, identity chathandler.Identity, limiter *handler.RateLimiter, checks ...handler.ReadinessCheck) *testServer {
	t.Helper()
	metrics := observability.NewMetrics()
	store := session.NewMemoryStore(time.Hour)
	t.Cleanup(store.Close)

	advisor := service.NewChatService(service.Dependencies{
		Completer: completer,
		Sessions:  store,
		Catalog:   fixtures.NewCatalog(nil),
		Holdings:  fixtures.NewHoldings(nil, time.Now()),
		Bundle:    locale.Default(),
		Metrics:   metrics,
		Logger:    zap.NewNop(),
	}, service.Config{})

	router := handler.NewRouter(handler.Dependencies{
		Advisor:        advisor,
		Tokens:         chathandler.NewSessionTokens("test-secret", time.Hour),
		Identity:       identity,
		Limiter:        limiter,
		Checks:         checks,
		AllowedOrigins: []string{"http://localhost:3000"},
		Metrics:        metrics,
		Logger:         zap.NewNop(),
	})
	return &testServer{router: router, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) start(t *testing.T) *http.Cookie {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/chat/session", `{"user_id":"`+fixtures.DemoUserID+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start session: %d %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == chathandler.CookieName {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func (s *testServer) say(t *testing.T, cookie *http.Cookie, msg string) chatdomain.ChatResponse {
	t.Helper()
	body, _ := json.Marshal(chatdomain.ChatRequest{Message: msg})
	rec := s.do(t, http.MethodPost, "/v1/chat/messages", string(body), cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("message %q: %d %s", msg, rec.Code, rec.Body.String())
	}
	var resp chatdomain.ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

// ============================================================
// Operational endpoints
// ============================================================

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, "ok", nil)

	rec := srv.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	healthy := handler.ReadinessCheck{Name: "sessions", Ping: func(context.Context) error { return nil }}
	srv := newTestServer(t, "ok", nil, healthy)

	rec := srv.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz_FailingDependency(t *testing.T) {
	down := handler.ReadinessCheck{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }}
	srv := newTestServer(t, "ok", nil, down)

	rec := srv.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/healthz", "", nil)
	var health domain.HealthStatus
	json.NewDecoder(rec.Body).Decode(&health)
	if rec.Code != http.StatusOK || health.Status != "degraded" {
		t.Errorf("expected degraded liveness, got %d %+v", rec.Code, health)
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, "ok", nil)

	rec := srv.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// ============================================================
// Chat flow
// ============================================================

func TestChatFlow_SurveyToRecommendation(t *testing.T) {
	markup := "Here is what fits you.\n\n" +
		"### Gramin Health Shield\n**Why:** Covers the family's hospital bills.\n**Premium:** ₹1\n" +
		"[Buy now](/purchase?product_id=1)"
	srv := newTestServer(t, markup, nil)
	cookie := srv.start(t)

	resp := srv.say(t, cookie, "Please recommend a policy")
	if resp.Mode != chatdomain.ModeSurvey || resp.Step != 1 {
		t.Fatalf("expected survey step 1, got %+v", resp)
	}

	answers := []string{"Myself", "35", "Farmer", "2,00,000", "No", "Health cover"}
	for i, a := range answers[:len(answers)-1] {
		resp = srv.say(t, cookie, a)
		if resp.Mode != chatdomain.ModeSurvey || resp.Step != i+2 {
			t.Fatalf("after answer %d expected step %d, got %+v", i+1, i+2, resp)
		}
	}

	resp = srv.say(t, cookie, answers[len(answers)-1])
	if resp.Mode != chatdomain.ModeRecommendation {
		t.Fatalf("expected recommendation, got %+v", resp)
	}
	if !strings.Contains(resp.Answer, "₹5000") || !strings.Contains(resp.Answer, "/purchase?product_id=1") {
		t.Errorf("expected catalog premium and purchase link, got %q", resp.Answer)
	}

	rec := srv.do(t, http.MethodGet, "/v1/chat/session", "", cookie)
	var view chatdomain.SessionView
	json.NewDecoder(rec.Body).Decode(&view)
	if view.Phase != chatdomain.PhaseIdle || view.HistoryLength != 2 {
		t.Errorf("expected idle session with one exchange, got %+v", view)
	}

	rec = srv.do(t, http.MethodGet, "/v1/metrics/advisor", "", nil)
	var snap domain.AdvisorMetrics
	json.NewDecoder(rec.Body).Decode(&snap)
	if snap.TotalTurns != 7 || snap.SurveyTurns != 6 {
		t.Errorf("unexpected metrics snapshot %+v", snap)
	}
}

func TestChatFlow_LanguageSwitch(t *testing.T) {
	srv := newTestServer(t, "ok", nil)
	cookie := srv.start(t)

	srv.say(t, cookie, "recommend")
	rec := srv.do(t, http.MethodPost, "/v1/chat/language", `{"language":"hi"}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view chatdomain.SessionView
	json.NewDecoder(rec.Body).Decode(&view)
	if view.Language != "hi" || view.Phase != chatdomain.PhaseIdle || view.HistoryLength != 0 {
		t.Errorf("expected clean hindi session, got %+v", view)
	}

	rec = srv.do(t, http.MethodPost, "/v1/chat/language", `{"language":"xx"}`, cookie)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestChatFlow_RateLimited(t *testing.T) {
	srv := newTestServer(t, "General answer.", handler.NewRateLimiter(1, 2))
	cookie := srv.start(t)

	for i := 0; i < 2; i++ {
		srv.say(t, cookie, "what is a premium?")
	}

	rec := srv.do(t, http.MethodPost, "/v1/chat/messages", `{"message":"again"}`, cookie)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv := newTestServer(t, "ok", nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat/messages", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected allowed origin echoed, got %q", got)
	}
}

func TestChatFlow_ClientUserIDDoesNotUnlockPolicies(t *testing.T) {
	completer := &recordingCompleter{}
	srv := buildTestServer(t, completer, chathandler.Identity{}, nil)
	cookie := srv.start(t)

	srv.say(t, cookie, "Which policies do I have?")
	if strings.Contains(completer.last(), "POL-4821-1") {
		t.Errorf("anonymous session must not see another user's policies:\n%s", completer.last())
	}
}

func TestChatFlow_ProxyUserSeesOwnPolicies(t *testing.T) {
	completer := &recordingCompleter{}
	srv := buildTestServer(t, completer, chathandler.Identity{UserHeader: "X-Authenticated-User"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/session", nil)
	req.Header.Set("X-Authenticated-User", fixtures.DemoUserID)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("start session: %d %s", rec.Code, rec.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == chathandler.CookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie")
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/chat/messages", strings.NewReader(`{"message":"Which policies do I have?"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Authenticated-User", fixtures.DemoUserID)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("message: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(completer.last(), "POL-4821-1") {
		t.Errorf("expected the authenticated user's policies in the prompt:\n%s", completer.last())
	}
}
