// Package service — chat_service.go implements the ChatService, the turn
// handler of the advisor.
//
// ============================================================
// TURN FLOW
// ============================================================
//
//  1. Handler calls ChatService.HandleTurn(sessionID, userID, utterance)
//  2. The per-session lock is taken; one turn per session at a time
//  3. The session is loaded (or created lazily) and normalized
//  4. The IntentRouter picks the route:
//     - continue survey → SurveyEngine.Answer
//     - start survey    → SurveyEngine.Start
//     - general query   → catalog + holdings, PromptBuilder.GeneralQuery
//  5. A completed survey goes to Matcher + PromptBuilder.Recommendation
//  6. Prompts go to the Completer; replies pass through the Formatter
//  7. The session is saved and a reply is always returned
//
// Completion failures never escape HandleTurn: each failure class maps to a
// localized message, and the session is saved without a history write.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/suraksha-advisor-go/internal/chat/domain"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/locale"
	chatport "github.com/boddenberg/suraksha-advisor-go/internal/chat/port"
	maindomain "github.com/boddenberg/suraksha-advisor-go/internal/domain"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/observability"
	"github.com/boddenberg/suraksha-advisor-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// chatTracer is the OpenTelemetry tracer for the chat module.
var chatTracer = otel.Tracer("chat/service")

const sessionSaveTimeout = 5 * time.Second

// Config holds the turn-level knobs of the service.
type Config struct {
	// HistoryLimit is the number of turns kept per session.
	HistoryLimit int
	// TurnTimeout bounds a whole turn, upstream retries included.
	TurnTimeout time.Duration
}

// Dependencies groups the collaborators of the ChatService.
type Dependencies struct {
	Completer chatport.Completer
	Sessions  chatport.SessionStore
	Catalog   port.CatalogProvider
	Holdings  port.HoldingsProvider
	Bundle    *locale.Bundle
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// ChatService is the conversational session engine.
type ChatService struct {
	completer chatport.Completer
	sessions  chatport.SessionStore
	catalog   port.CatalogProvider
	holdings  port.HoldingsProvider
	bundle    *locale.Bundle

	router    *IntentRouter
	survey    *SurveyEngine
	matcher   *Matcher
	prompts   *PromptBuilder
	formatter *Formatter
	locks     *sessionLocks

	cfg     Config
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewChatService wires the engine components over the locale bundle.
func NewChatService(deps Dependencies, cfg Config) *ChatService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 8
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 45 * time.Second
	}
	return &ChatService{
		completer: deps.Completer,
		sessions:  deps.Sessions,
		catalog:   deps.Catalog,
		holdings:  deps.Holdings,
		bundle:    deps.Bundle,
		router:    NewIntentRouter(deps.Bundle.Triggers()),
		survey:    NewSurveyEngine(deps.Bundle),
		matcher:   NewMatcher(deps.Bundle.Matching),
		prompts:   NewPromptBuilder(deps.Bundle),
		formatter: NewFormatter(),
		locks:     newSessionLocks(),
		cfg:       cfg,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
}

// ============================================================
// HandleTurn — the single produced operation
// ============================================================

// HandleTurn processes one utterance for a session and always returns a reply.
// userID is only used when the session has to be created.
func (s *ChatService) HandleTurn(ctx context.Context, sessionID, userID, utterance string) *domain.ChatResponse {
	ctx, span := chatTracer.Start(ctx, "ChatService.HandleTurn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	unlock := s.locks.lock(sessionID)
	defer unlock()

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("turn", time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	sess, err := s.load(ctx, sessionID, userID)
	if err != nil {
		s.logger.Error("session load failed", zap.String("session_id", sessionID), zap.Error(err))
		s.metrics.RecordTurn("load", observability.TurnFailed)
		return s.fallback(s.bundle.DefaultLanguage, locale.MsgUpstream)
	}

	_, active := sess.ActiveSurvey()
	route := s.router.Route(utterance, active)
	span.SetAttributes(attribute.String("chat.route", route.String()))

	s.logger.Info("chat turn received",
		zap.String("session_id", sessionID),
		zap.String("route", route.String()),
		zap.String("language", sess.Language),
		zap.Int("utterance_length", len(utterance)),
	)

	switch route {
	case RouteContinueSurvey:
		out := s.survey.Answer(sess, utterance)
		if out.Kind == OutcomeCompleted {
			return s.recommend(ctx, sess, out.Answers, utterance)
		}
		return s.surveyReply(ctx, sess, route, out)
	case RouteStartSurvey:
		return s.surveyReply(ctx, sess, route, s.survey.Start(sess))
	default:
		return s.answerGeneral(ctx, sess, utterance)
	}
}

func (s *ChatService) surveyReply(ctx context.Context, sess *domain.Session, route Route, out Outcome) *domain.ChatResponse {
	if err := s.save(ctx, sess); err != nil {
		s.metrics.RecordTurn(route.String(), observability.TurnFailed)
		return s.fallback(sess.Language, locale.MsgUpstream)
	}

	s.logger.Debug("survey transition",
		zap.String("session_id", sess.ID),
		zap.Int("step", out.Step),
		zap.Bool("invalid", out.Kind == OutcomeInvalid),
	)
	s.metrics.RecordTurn(route.String(), observability.TurnOK)

	return &domain.ChatResponse{Answer: out.Reply, Mode: domain.ModeSurvey, Step: out.Step}
}

// recommend runs the hand-off after the last survey answer. The session is in
// PhaseReady here and leaves it Idle whatever the outcome.
func (s *ChatService) recommend(ctx context.Context, sess *domain.Session, answers []domain.Answer, utterance string) *domain.ChatResponse {
	ctx, span := chatTracer.Start(ctx, "ChatService.recommend")
	defer span.End()

	const route = "recommendation"

	catalog := s.fetchCatalog(ctx)
	categories := s.matcher.Categories(answers)
	matched := s.matcher.Filter(catalog, categories)
	span.SetAttributes(
		attribute.StringSlice("recommendation.categories", categories),
		attribute.Int("recommendation.items", len(matched)),
	)

	prompt := s.prompts.Recommendation(sess.Language, matched, answers, utterance)
	sess.ClearSurvey()

	text, err := s.complete(ctx, sess, prompt, func(reply string) (string, error) {
		return s.formatter.Recommendation(reply, matched)
	})
	if err != nil {
		s.metrics.RecordTurn(route, observability.TurnFailed)
		_ = s.save(ctx, sess)
		return s.fallback(sess.Language, failureKey(err))
	}

	sess.AppendExchange(utterance, text, s.cfg.HistoryLimit)
	if err := s.save(ctx, sess); err != nil {
		s.metrics.RecordTurn(route, observability.TurnFailed)
		return s.fallback(sess.Language, locale.MsgUpstream)
	}
	s.metrics.RecordTurn(route, observability.TurnOK)
	return &domain.ChatResponse{Answer: text, Mode: domain.ModeRecommendation}
}

func (s *ChatService) answerGeneral(ctx context.Context, sess *domain.Session, utterance string) *domain.ChatResponse {
	ctx, span := chatTracer.Start(ctx, "ChatService.answerGeneral")
	defer span.End()

	route := RouteGeneralQuery.String()

	// Catalog and holdings are independent reads; both degrade instead of
	// failing the turn.
	var (
		catalog  []maindomain.CatalogItem
		holdings Holdings
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		catalog = s.fetchCatalog(gCtx)
		return nil
	})
	g.Go(func() error {
		holdings = s.fetchHoldings(gCtx, sess.UserID)
		return nil
	})
	_ = g.Wait()

	prompt := s.prompts.GeneralQuery(sess.Language, catalog, holdings, utterance)

	text, err := s.complete(ctx, sess, prompt, func(reply string) (string, error) {
		return s.formatter.General(reply, catalog)
	})
	if err != nil {
		s.metrics.RecordTurn(route, observability.TurnFailed)
		_ = s.save(ctx, sess)
		return s.fallback(sess.Language, failureKey(err))
	}

	sess.AppendExchange(utterance, text, s.cfg.HistoryLimit)
	if err := s.save(ctx, sess); err != nil {
		s.metrics.RecordTurn(route, observability.TurnFailed)
		return s.fallback(sess.Language, locale.MsgUpstream)
	}
	s.metrics.RecordTurn(route, observability.TurnOK)
	return &domain.ChatResponse{Answer: text, Mode: domain.ModeGeneral}
}

// complete calls the completion service with the trimmed history and passes
// the reply through the given formatter.
func (s *ChatService) complete(ctx context.Context, sess *domain.Session, prompt string, format func(string) (string, error)) (string, error) {
	history := domain.TrimHistory(sess.History, s.cfg.HistoryLimit)

	start := time.Now()
	completion, err := s.completer.Complete(ctx, history, prompt)
	s.metrics.RecordRequestDuration("completion", time.Since(start))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && failureKey(err) != locale.MsgRateLimited {
			err = &maindomain.ErrTimeout{Operation: "completion"}
		}
		s.logger.Error("completion failed",
			zap.String("session_id", sess.ID),
			zap.String("failure", failureKey(err)),
			zap.Error(err),
		)
		return "", err
	}

	text, err := format(completion.Text)
	if err != nil {
		s.metrics.RecordCompletion("malformed")
		s.logger.Warn("completion rejected by formatter",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		return "", err
	}
	return text, nil
}

// ============================================================
// Session lifecycle — reset, language, view
// ============================================================

// Reset starts a fresh conversation for the session id, keeping only the
// language of the previous one. It returns the localized greeting.
func (s *ChatService) Reset(ctx context.Context, sessionID, userID string) (*domain.ChatResponse, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.Reset")
	defer span.End()

	unlock := s.locks.lock(sessionID)
	defer unlock()

	lang := s.bundle.DefaultLanguage
	prev, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		s.logger.Warn("previous session unreadable, starting clean",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
	if prev != nil {
		lang = s.bundle.Resolve(prev.Language)
	}

	sess := domain.NewSession(sessionID, userID, lang)
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, &maindomain.ErrExternalService{Service: "session-store", Err: err}
	}

	s.logger.Info("chat session reset", zap.String("session_id", sessionID), zap.String("language", lang))
	return &domain.ChatResponse{
		Answer: s.bundle.Message(lang, locale.MsgGreeting, nil),
		Mode:   domain.ModeGreeting,
	}, nil
}

// SetLanguage switches the session language, clearing survey and history.
func (s *ChatService) SetLanguage(ctx context.Context, sessionID, userID, code string) (*domain.SessionView, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.SetLanguage")
	defer span.End()

	if !s.bundle.Supported(code) {
		return nil, &maindomain.ErrValidation{Field: "language", Message: "unsupported language: " + code}
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, sessionID, userID)
	if err != nil {
		return nil, &maindomain.ErrExternalService{Service: "session-store", Err: err}
	}
	sess.SwitchLanguage(code)
	if err := s.save(ctx, sess); err != nil {
		return nil, &maindomain.ErrExternalService{Service: "session-store", Err: err}
	}

	s.logger.Info("chat language changed", zap.String("session_id", sessionID), zap.String("language", code))
	return view(sess), nil
}

// View returns a diagnostic snapshot of the session.
func (s *ChatService) View(ctx context.Context, sessionID string) (*domain.SessionView, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.View")
	defer span.End()

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, &maindomain.ErrExternalService{Service: "session-store", Err: err}
	}
	if sess == nil {
		return nil, &maindomain.ErrNotFound{Resource: "session", ID: sessionID}
	}
	sess.Language = s.bundle.Resolve(sess.Language)
	sess.Normalize(s.cfg.HistoryLimit, s.bundle.StepCount())
	return view(sess), nil
}

// Languages lists the supported languages.
func (s *ChatService) Languages() []locale.Language {
	return s.bundle.List()
}

func view(sess *domain.Session) *domain.SessionView {
	v := &domain.SessionView{
		SessionID:     sess.ID,
		Language:      sess.Language,
		Phase:         sess.Phase,
		HistoryLength: len(sess.History),
	}
	if st, ok := sess.ActiveSurvey(); ok {
		v.Step = st.Step
	}
	return v
}

// ============================================================
// Internal helpers
// ============================================================

func (s *ChatService) load(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return domain.NewSession(sessionID, userID, s.bundle.DefaultLanguage), nil
	}
	sess.ID = sessionID
	if sess.UserID == "" {
		sess.UserID = userID
	}
	sess.Language = s.bundle.Resolve(sess.Language)
	sess.Normalize(s.cfg.HistoryLimit, s.bundle.StepCount())
	return sess, nil
}

// save persists the session even when the turn deadline already expired, so
// a timed-out turn still leaves a consistent state behind.
func (s *ChatService) save(ctx context.Context, sess *domain.Session) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionSaveTimeout)
	defer cancel()

	sess.UpdatedAt = time.Now()
	if err := s.sessions.Save(ctx, sess); err != nil {
		s.logger.Error("session save failed", zap.String("session_id", sess.ID), zap.Error(err))
		s.metrics.IncrExternalError("session-store")
		return err
	}
	return nil
}

func (s *ChatService) fetchCatalog(ctx context.Context) []maindomain.CatalogItem {
	items, err := s.catalog.ActiveProducts(ctx)
	if err != nil {
		s.logger.Warn("catalog unavailable, continuing with empty snapshot", zap.Error(err))
		s.metrics.IncrExternalError("catalog")
		return nil
	}
	return maindomain.ActiveOnly(items)
}

func (s *ChatService) fetchHoldings(ctx context.Context, userID string) Holdings {
	if userID == "" || s.holdings == nil {
		return Holdings{}
	}
	items, err := s.holdings.Holdings(ctx, userID)
	if err != nil {
		s.logger.Warn("holdings unavailable", zap.String("user_id", userID), zap.Error(err))
		s.metrics.IncrExternalError("holdings")
		return Holdings{Unavailable: true}
	}
	return Holdings{Items: items}
}

func (s *ChatService) fallback(lang, key string) *domain.ChatResponse {
	return &domain.ChatResponse{Answer: s.bundle.Message(lang, key, nil), Mode: domain.ModeFallback}
}

// failureKey maps a completion failure to its user-facing message key.
func failureKey(err error) string {
	var (
		rateLimited *maindomain.ErrRateLimited
		timeout     *maindomain.ErrTimeout
		malformed   *maindomain.ErrMalformedResponse
		network     *maindomain.ErrNetwork
	)
	switch {
	case errors.As(err, &rateLimited):
		return locale.MsgRateLimited
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return locale.MsgTimeout
	case errors.As(err, &malformed):
		return locale.MsgMalformed
	case errors.As(err, &network):
		return locale.MsgNetwork
	default:
		return locale.MsgUpstream
	}
}
