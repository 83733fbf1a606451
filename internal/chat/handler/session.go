package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	maindomain "github.com/boddenberg/suraksha-advisor-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ============================================================
// Session cookie — signed JWT carrying the session id
// ============================================================

// CookieName is the cookie holding the session token.
const CookieName = "advisor_session"

const (
	tokenType   = "chat_session"
	tokenIssuer = "suraksha-advisor"
)

// SessionClaims are the claims of a session token. Subject carries the
// host application's user id and may be empty for anonymous visitors.
type SessionClaims struct {
	SessionID string `json:"sid"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

// SessionTokens signs and validates session tokens (HS256).
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokens creates a signer. ttl bounds the cookie lifetime.
func NewSessionTokens(secret string, ttl time.Duration) *SessionTokens {
	return &SessionTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for sessionID owned by userID.
func (t *SessionTokens) Issue(sessionID, userID string) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := SessionClaims{
		SessionID: sessionID,
		Type:      tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    tokenIssuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expires, nil
}

// Parse validates a token and returns its claims.
func (t *SessionTokens) Parse(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, &maindomain.ErrUnauthorized{Message: "invalid or expired session"}
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, &maindomain.ErrUnauthorized{Message: "invalid session"}
	}
	if claims.Type != tokenType || claims.SessionID == "" {
		return nil, &maindomain.ErrUnauthorized{Message: "invalid session token type"}
	}
	return claims, nil
}

// setCookie writes the session cookie.
func (t *SessionTokens) setCookie(w http.ResponseWriter, r *http.Request, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// ============================================================
// Identity: who owns the session
// ============================================================

// Identity says where the host application's user id comes from. The user id
// selects the policies quoted back in answers, so it is never taken from an
// unauthenticated client unless AllowBodyUserID is set.
type Identity struct {
	// UserHeader names the header set by the authenticating proxy in front of
	// the advisor. When set it is the only source of the user id.
	UserHeader string
	// AllowBodyUserID honors {"user_id"} on POST /v1/chat/session. Demo
	// deployments only.
	AllowBodyUserID bool
}

// resolveUser picks the user id for a new or re-entered session. prior is
// the caller's still-valid token, if any.
func (id Identity) resolveUser(r *http.Request, bodyUserID string, prior *SessionClaims) string {
	if id.UserHeader != "" {
		return strings.TrimSpace(r.Header.Get(id.UserHeader))
	}
	if id.AllowBodyUserID && bodyUserID != "" {
		return bodyUserID
	}
	if prior != nil {
		return prior.Subject
	}
	return ""
}

// matches reports whether claims still belong to the proxy-authenticated user.
func (id Identity) matches(r *http.Request, claims *SessionClaims) bool {
	if id.UserHeader == "" {
		return true
	}
	return strings.TrimSpace(r.Header.Get(id.UserHeader)) == claims.Subject
}

// tokenFromRequest reads the cookie, falling back to a Bearer header for
// clients that cannot keep cookies.
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// ============================================================
// Context
// ============================================================

type contextKey string

const claimsKey contextKey = "sessionClaims"

// ClaimsFromContext returns the session claims set by RequireSession.
func ClaimsFromContext(ctx context.Context) (*SessionClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*SessionClaims)
	return c, ok
}

// SessionKey returns the session id of the request, or "" when the request
// carries no session.
func SessionKey(r *http.Request) string {
	if c, ok := ClaimsFromContext(r.Context()); ok {
		return c.SessionID
	}
	return ""
}

// RequireSession rejects requests without a valid session token and puts
// the claims into the context.
// With a proxy header configured, a token issued to another user is rejected.
func RequireSession(tokens *SessionTokens, identity Identity, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFromRequest(r)
			if raw == "" {
				logger.Warn("chat: missing session token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "session not started: call POST /v1/chat/session first")
				return
			}

			claims, err := tokens.Parse(raw)
			if err != nil {
				logger.Warn("chat: invalid session token",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				handleServiceError(w, err, logger)
				return
			}
			if !identity.matches(r, claims) {
				logger.Warn("chat: session user differs from authenticated user",
					zap.String("path", r.URL.Path),
					zap.String("session_id", claims.SessionID),
				)
				handleServiceError(w, &maindomain.ErrUnauthorized{Message: "session belongs to another user: call POST /v1/chat/session"}, logger)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
