package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/suraksha-advisor-go/internal/chat/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("infra/session")

const (
	// KeyPrefix namespaces session keys.
	KeyPrefix  = "advisor:session:"
	defaultTTL = 24 * time.Hour
)

// RedisStore implements port.SessionStore on Redis. Every read and write
// refreshes the key TTL.
type RedisStore struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, logger: logger}
}

func (s *RedisStore) key(id string) string {
	return KeyPrefix + id
}

// Get returns (nil, nil) when the key is absent.
func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "RedisStore.Get")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id))

	key := s.key(id)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}

	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		s.logger.Warn("failed to refresh session ttl", zap.String("key", key), zap.Error(err))
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *domain.Session) error {
	ctx, span := tracer.Start(ctx, "RedisStore.Save")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID))

	sess.UpdatedAt = time.Now()
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.rdb.Set(ctx, s.key(sess.ID), raw, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis set %s: %w", s.key(sess.ID), err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key(id), err)
	}
	return nil
}

// Ping reports whether Redis is reachable; used by /readyz.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
