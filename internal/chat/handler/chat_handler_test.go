package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/suraksha-advisor-go/internal/chat/domain"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/handler"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/locale"
	maindomain "github.com/boddenberg/suraksha-advisor-go/internal/domain"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// --- Fake advisor ---

type call struct {
	method, sessionID, userID, arg string
}

type fakeAdvisor struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeAdvisor) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeAdvisor) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeAdvisor) HandleTurn(_ context.Context, sessionID, userID, utterance string) *domain.ChatResponse {
	f.record(call{"turn", sessionID, userID, utterance})
	return &domain.ChatResponse{Answer: "echo: " + utterance, Mode: domain.ModeGeneral}
}

func (f *fakeAdvisor) Reset(_ context.Context, sessionID, userID string) (*domain.ChatResponse, error) {
	f.record(call{"reset", sessionID, userID, ""})
	return &domain.ChatResponse{Answer: "Namaste!", Mode: domain.ModeGreeting}, nil
}

func (f *fakeAdvisor) SetLanguage(_ context.Context, sessionID, userID, code string) (*domain.SessionView, error) {
	f.record(call{"language", sessionID, userID, code})
	if code != "hi" {
		return nil, &maindomain.ErrValidation{Field: "language", Message: "unsupported language: " + code}
	}
	return &domain.SessionView{SessionID: sessionID, Language: code, Phase: domain.PhaseIdle}, nil
}

func (f *fakeAdvisor) View(_ context.Context, sessionID string) (*domain.SessionView, error) {
	f.record(call{"view", sessionID, "", ""})
	return nil, &maindomain.ErrNotFound{Resource: "session", ID: sessionID}
}

func (f *fakeAdvisor) Languages() []locale.Language {
	return []locale.Language{{Code: "en", Name: "English"}, {Code: "hi", Name: "Hindi"}}
}

// --- Helpers ---

// demoIdentity honors the user_id body field, as a demo deployment does.
var demoIdentity = handler.Identity{AllowBodyUserID: true}

func newRouter(advisor handler.Advisor, tokens *handler.SessionTokens) http.Handler {
	return newRouterWithIdentity(advisor, tokens, demoIdentity)
}

func newRouterWithIdentity(advisor handler.Advisor, tokens *handler.SessionTokens, identity handler.Identity) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/chat", func(r chi.Router) {
		handler.Mount(r, advisor, tokens, identity, zap.NewNop())
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == handler.CookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

// --- Tests ---

func TestStartSession_SetsCookieAndGreets(t *testing.T) {
	advisor := &fakeAdvisor{}
	router := newRouter(advisor, handler.NewSessionTokens("secret", time.Hour))

	rec := do(t, router, http.MethodPost, "/v1/chat/session", `{"user_id":"demo-user"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body domain.SessionStarted
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Mode != domain.ModeGreeting || body.Answer != "Namaste!" || body.SessionID == "" || body.Token == "" {
		t.Errorf("unexpected body %+v", body)
	}
	if c := sessionCookie(t, rec); !c.HttpOnly || c.Value != body.Token {
		t.Errorf("unexpected cookie %+v", c)
	}
	if got := advisor.last(); got.method != "reset" || got.userID != "demo-user" || got.sessionID != body.SessionID {
		t.Errorf("unexpected reset call %+v", got)
	}
}

func TestStartSession_ReentryKeepsSessionID(t *testing.T) {
	advisor := &fakeAdvisor{}
	router := newRouter(advisor, handler.NewSessionTokens("secret", time.Hour))

	first := do(t, router, http.MethodPost, "/v1/chat/session", "")
	cookie := sessionCookie(t, first)
	firstID := advisor.last().sessionID

	do(t, router, http.MethodPost, "/v1/chat/session", "", cookie)
	if got := advisor.last().sessionID; got != firstID {
		t.Errorf("re-entry must reuse session id %s, got %s", firstID, got)
	}
}

func TestMessages_RequiresSession(t *testing.T) {
	router := newRouter(&fakeAdvisor{}, handler.NewSessionTokens("secret", time.Hour))

	rec := do(t, router, http.MethodPost, "/v1/chat/messages", `{"message":"hi"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without cookie, got %d", rec.Code)
	}

	forged := &http.Cookie{Name: handler.CookieName, Value: "not-a-jwt"}
	rec = do(t, router, http.MethodPost, "/v1/chat/messages", `{"message":"hi"}`, forged)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with forged cookie, got %d", rec.Code)
	}
}

func TestMessages_RejectsTokenFromOtherSecret(t *testing.T) {
	other := handler.NewSessionTokens("other-secret", time.Hour)
	token, _, err := other.Issue("s1", "")
	if err != nil {
		t.Fatal(err)
	}

	router := newRouter(&fakeAdvisor{}, handler.NewSessionTokens("secret", time.Hour))
	rec := do(t, router, http.MethodPost, "/v1/chat/messages", `{"message":"hi"}`,
		&http.Cookie{Name: handler.CookieName, Value: token})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMessages_RunsTurn(t *testing.T) {
	advisor := &fakeAdvisor{}
	router := newRouter(advisor, handler.NewSessionTokens("secret", time.Hour))
	cookie := sessionCookie(t, do(t, router, http.MethodPost, "/v1/chat/session", `{"user_id":"u1"}`))

	rec := do(t, router, http.MethodPost, "/v1/chat/messages", `{"message":"  what is a premium?  "}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp domain.ChatResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Answer != "echo: what is a premium?" || resp.Mode != domain.ModeGeneral {
		t.Errorf("unexpected response %+v", resp)
	}
	if got := advisor.last(); got.method != "turn" || got.userID != "u1" {
		t.Errorf("unexpected call %+v", got)
	}
}

func TestMessages_BearerHeader(t *testing.T) {
	tokens := handler.NewSessionTokens("secret", time.Hour)
	token, _, _ := tokens.Issue("s-bearer", "")
	router := newRouter(&fakeAdvisor{}, tokens)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/messages", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with bearer token, got %d", rec.Code)
	}
}

func TestMessages_Validation(t *testing.T) {
	router := newRouter(&fakeAdvisor{}, handler.NewSessionTokens("secret", time.Hour))
	cookie := sessionCookie(t, do(t, router, http.MethodPost, "/v1/chat/session", ""))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"blank message", `{"message":"   "}`, http.StatusUnprocessableEntity},
		{"too long", `{"message":"` + strings.Repeat("a", 2001) + `"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/v1/chat/messages", tt.body, cookie)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestLanguage_SwitchAndReject(t *testing.T) {
	router := newRouter(&fakeAdvisor{}, handler.NewSessionTokens("secret", time.Hour))
	cookie := sessionCookie(t, do(t, router, http.MethodPost, "/v1/chat/session", ""))

	rec := do(t, router, http.MethodPost, "/v1/chat/language", `{"language":"hi"}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view domain.SessionView
	json.NewDecoder(rec.Body).Decode(&view)
	if view.Language != "hi" {
		t.Errorf("expected hi, got %+v", view)
	}

	rec = do(t, router, http.MethodPost, "/v1/chat/language", `{"language":"xx"}`, cookie)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unsupported language, got %d", rec.Code)
	}
}

func TestLanguages_Public(t *testing.T) {
	router := newRouter(&fakeAdvisor{}, handler.NewSessionTokens("secret", time.Hour))

	rec := do(t, router, http.MethodGet, "/v1/chat/languages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Languages []locale.Language `json:"languages"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if len(body.Languages) != 2 || body.Languages[0].Code != "en" {
		t.Errorf("unexpected languages %+v", body.Languages)
	}
}

func TestSessionView_NotFound(t *testing.T) {
	router := newRouter(&fakeAdvisor{}, handler.NewSessionTokens("secret", time.Hour))
	cookie := sessionCookie(t, do(t, router, http.MethodPost, "/v1/chat/session", ""))

	rec := do(t, router, http.MethodGet, "/v1/chat/session", "", cookie)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSessionTokens_Expired(t *testing.T) {
	tokens := handler.NewSessionTokens("secret", -time.Minute)
	token, _, err := tokens.Issue("s1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tokens.Parse(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestStartSession_IgnoresBodyUserIDByDefault(t *testing.T) {
	advisor := &fakeAdvisor{}
	router := newRouterWithIdentity(advisor, handler.NewSessionTokens("secret", time.Hour), handler.Identity{})

	cookie := sessionCookie(t, do(t, router, http.MethodPost, "/v1/chat/session", `{"user_id":"demo-user"}`))
	if got := advisor.last(); got.method != "reset" || got.userID != "" {
		t.Errorf("expected anonymous session, got %+v", got)
	}

	do(t, router, http.MethodPost, "/v1/chat/messages", `{"message":"what are my policies?"}`, cookie)
	if got := advisor.last(); got.method != "turn" || got.userID != "" {
		t.Errorf("turn must not run as the claimed user, got %+v", got)
	}
}

func TestStartSession_UserFromProxyHeader(t *testing.T) {
	advisor := &fakeAdvisor{}
	identity := handler.Identity{UserHeader: "X-Authenticated-User"}
	router := newRouterWithIdentity(advisor, handler.NewSessionTokens("secret", time.Hour), identity)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/session", strings.NewReader(`{"user_id":"someone-else"}`))
	req.Header.Set("X-Authenticated-User", "u-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := advisor.last(); got.userID != "u-42" {
		t.Errorf("expected header user, got %+v", got)
	}
	cookie := sessionCookie(t, rec)

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/messages", strings.NewReader(`{"message":"hi"}`))
		req.Header.Set("X-Authenticated-User", user)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send("u-42"); code != http.StatusOK {
		t.Errorf("expected 200 for the owner, got %d", code)
	}
	if code := send("u-7"); code != http.StatusUnauthorized {
		t.Errorf("expected 401 for another user, got %d", code)
	}
}
