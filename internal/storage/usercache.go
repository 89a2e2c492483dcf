package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lexify/requestforms/internal/logger"
)

// CachedUserStore serves accounts from Redis, falling back to the wrapped
// store. A nil client disables caching.
type CachedUserStore struct {
	next   UserStore
	client *redis.Client
	ttl    time.Duration
}

// NewCachedUserStore wraps next with a Redis cache.
func NewCachedUserStore(next UserStore, client *redis.Client, ttl time.Duration) *CachedUserStore {
	return &CachedUserStore{next: next, client: client, ttl: ttl}
}

func accountKey(userID string) string {
	return "lexify:account:" + userID
}

// Account returns the cached account or loads and caches it. Cache errors
// are logged and never fail the call.
func (s *CachedUserStore) Account(ctx context.Context, userID string) (*Account, error) {
	if s.client == nil {
		return s.next.Account(ctx, userID)
	}

	raw, err := s.client.Get(ctx, accountKey(userID)).Bytes()
	switch {
	case err == nil:
		var a Account
		if err := json.Unmarshal(raw, &a); err == nil {
			return &a, nil
		}
		logger.Warn("Discarding malformed cached account", "userId", userID)
	case !errors.Is(err, redis.Nil):
		logger.Warn("Account cache read failed", "userId", userID, "error", err)
	}

	a, err := s.next.Account(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		if err := s.client.Set(ctx, accountKey(userID), data, s.ttl).Err(); err != nil {
			logger.Warn("Account cache write failed", "userId", userID, "error", err)
		}
	}
	return a, nil
}

// Invalidate drops a cached account.
func (s *CachedUserStore) Invalidate(ctx context.Context, userID string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Del(ctx, accountKey(userID)).Err()
}
