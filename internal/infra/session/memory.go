// Package session holds the SessionStore drivers: an in-process store for
// single-instance deployments and tests, and a Redis store shared between
// instances.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/suraksha-advisor-go/internal/chat/domain"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/cache"
)

// MemoryStore keeps sessions as JSON snapshots, so callers never share
// pointers with stored state.
type MemoryStore struct {
	items *cache.InMemory[[]byte]
}

// NewMemoryStore creates a store whose sessions expire after ttl of
// inactivity.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{items: cache.New[[]byte](ttl)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Session, error) {
	raw, ok := s.items.Get(id)
	if !ok {
		return nil, nil
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *MemoryStore) Save(_ context.Context, sess *domain.Session) error {
	sess.UpdatedAt = time.Now()
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	s.items.Set(sess.ID, raw)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.items.Delete(id)
	return nil
}

// Close stops the expiry janitor.
func (s *MemoryStore) Close() { s.items.Close() }
