// Package handler exposes the advisor chat over HTTP.
//
// ============================================================
// ROUTES
// ============================================================
//
//	POST /v1/chat/session    enter (or re-enter) the chat view; sets the cookie
//	POST /v1/chat/messages   one conversational turn
//	POST /v1/chat/language   switch reply language (clears survey and history)
//	GET  /v1/chat/languages  supported languages, default first
//	GET  /v1/chat/session    diagnostic view of the current session
//
// Every route except POST /session and GET /languages needs the session
// token, as the advisor_session cookie or a Bearer header.
//
// A turn always answers 200 with some text once the session is resolved;
// upstream trouble comes back as a localized fallback, not as an HTTP error.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/boddenberg/suraksha-advisor-go/internal/chat/domain"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/locale"
	maindomain "github.com/boddenberg/suraksha-advisor-go/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// tracer is the OpenTelemetry tracer for the chat/handler module.
var tracer = otel.Tracer("chat/handler")

const (
	maxMessageRunes = 2000
	maxBodyBytes    = 16 << 10
)

// Advisor is what the handlers need from service.ChatService.
type Advisor interface {
	HandleTurn(ctx context.Context, sessionID, userID, utterance string) *domain.ChatResponse
	Reset(ctx context.Context, sessionID, userID string) (*domain.ChatResponse, error)
	SetLanguage(ctx context.Context, sessionID, userID, code string) (*domain.SessionView, error)
	View(ctx context.Context, sessionID string) (*domain.SessionView, error)
	Languages() []locale.Language
}

// Mount registers the chat routes on r. turnMiddleware wraps the message
// route only (e.g. the per-session rate limiter).
func Mount(r chi.Router, advisor Advisor, tokens *SessionTokens, identity Identity, logger *zap.Logger, turnMiddleware ...func(http.Handler) http.Handler) {
	r.Post("/session", StartSessionHandler(advisor, tokens, identity, logger))
	r.Get("/languages", LanguagesHandler(advisor))

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(tokens, identity, logger))
		r.With(turnMiddleware...).Post("/messages", MessageHandler(advisor, logger))
		r.Post("/language", LanguageHandler(advisor, logger))
		r.Get("/session", SessionViewHandler(advisor, logger))
	})
}

// ============================================================
// POST /v1/chat/session
// ============================================================

// StartSessionHandler resets the caller's session (reusing the id of a valid
// token, if any) and answers with the localized greeting. The user id comes
// from identity; the body field is read only when identity allows it.
//
// Request (optional):
//
//	{"user_id": "demo-user"}
//
// Response (200 OK):
//
//	{"answer": "Namaste! ...", "mode": "greeting", "session_id": "...", "token": "..."}
func StartSessionHandler(advisor Advisor, tokens *SessionTokens, identity Identity, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/chat/session")
		defer span.End()

		var req domain.SessionRequest
		if err := decodeOptional(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: expected {\"user_id\": \"...\"}")
			return
		}

		sessionID := uuid.NewString()
		var prior *SessionClaims
		if raw := tokenFromRequest(r); raw != "" {
			if claims, err := tokens.Parse(raw); err == nil && identity.matches(r, claims) {
				prior = claims
				sessionID = claims.SessionID
			}
		}
		userID := identity.resolveUser(r, strings.TrimSpace(req.UserID), prior)
		span.SetAttributes(attribute.String("session.id", sessionID))

		resp, err := advisor.Reset(ctx, sessionID, userID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		token, expires, err := tokens.Issue(sessionID, userID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		tokens.setCookie(w, r, token, expires)

		writeJSON(w, http.StatusOK, domain.SessionStarted{
			ChatResponse: *resp,
			SessionID:    sessionID,
			Token:        token,
		})
	}
}

// ============================================================
// POST /v1/chat/messages
// ============================================================

// MessageHandler runs one turn.
//
// Request:
//
//	{"message": "I want insurance"}
//
// Response (200 OK):
//
//	{"answer": "Who would you like to insure?", "mode": "survey", "step": 1}
func MessageHandler(advisor Advisor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/chat/messages")
		defer span.End()

		claims, _ := ClaimsFromContext(ctx)
		span.SetAttributes(attribute.String("session.id", claims.SessionID))

		var req domain.ChatRequest
		if err := decodeRequired(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: expected {\"message\": \"your message\"}")
			return
		}

		message := strings.TrimSpace(req.Message)
		if message == "" {
			handleServiceError(w, &maindomain.ErrValidation{Field: "message", Message: "message is required"}, logger)
			return
		}
		if utf8.RuneCountInString(message) > maxMessageRunes {
			handleServiceError(w, &maindomain.ErrValidation{Field: "message", Message: "message is too long"}, logger)
			return
		}

		resp := advisor.HandleTurn(ctx, claims.SessionID, claims.Subject, message)
		span.SetAttributes(attribute.String("chat.mode", string(resp.Mode)))
		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// POST /v1/chat/language
// ============================================================

// LanguageHandler switches the reply language.
func LanguageHandler(advisor Advisor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/chat/language")
		defer span.End()

		claims, _ := ClaimsFromContext(ctx)

		var req domain.LanguageRequest
		if err := decodeRequired(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: expected {\"language\": \"hi\"}")
			return
		}
		span.SetAttributes(attribute.String("chat.language", req.Language))

		view, err := advisor.SetLanguage(ctx, claims.SessionID, claims.Subject, strings.TrimSpace(req.Language))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// ============================================================
// GET /v1/chat/languages, GET /v1/chat/session
// ============================================================

// LanguagesHandler lists the supported languages.
func LanguagesHandler(advisor Advisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"languages": advisor.Languages()})
	}
}

// SessionViewHandler returns the diagnostic session view.
func SessionViewHandler(advisor Advisor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/chat/session")
		defer span.End()

		claims, _ := ClaimsFromContext(ctx)
		view, err := advisor.View(ctx, claims.SessionID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// ============================================================
// Helpers
// ============================================================

func decodeRequired(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, dst any) error {
	err := decodeRequired(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeJSON serializes data as JSON.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleServiceError maps domain errors to HTTP status codes.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var (
		notFound     *maindomain.ErrNotFound
		validation   *maindomain.ErrValidation
		unauthorized *maindomain.ErrUnauthorized
		external     *maindomain.ErrExternalService
		timeout      *maindomain.ErrTimeout
	)

	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &unauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.String("service", external.Service), zap.Error(external.Err))
		writeError(w, http.StatusBadGateway, "external service unavailable: "+external.Service)
	case errors.As(err, &timeout):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		logger.Error("unexpected error in chat handler", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
