// Package port defines the interfaces the chat service depends on.
// Concrete drivers live under internal/chat/infra and internal/infra/session.
package port

import (
	"context"

	"github.com/boddenberg/suraksha-advisor-go/internal/chat/domain"
)

// Completer sends a self-contained prompt plus bounded history to the
// text-generation service. Implemented by infra.CompletionClient.
type Completer interface {
	Complete(ctx context.Context, history []domain.Turn, prompt string) (*domain.Completion, error)
}

// SessionStore persists sessions by caller-supplied id.
// Get returns (nil, nil) when the session does not exist.
type SessionStore interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, sess *domain.Session) error
	Delete(ctx context.Context, id string) error
}
