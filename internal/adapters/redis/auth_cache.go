package redis

// Package redis provides Redis-based adapters for the learnhub service.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	domainauth "github.com/target/learnhub/internal/domain/auth"
	"github.com/target/learnhub/internal/ports"
)

// AuthCacheFactory hands out one AuthCache per browser session id.
type AuthCacheFactory struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// AuthCacheKeyPrefix prefixes every auth cache key; the browser session id follows.
const AuthCacheKeyPrefix = "authcache:"

// NewAuthCacheFactory creates a factory. ttl <= 0 defaults to 24h.
func NewAuthCacheFactory(client redis.UniversalClient, ttl time.Duration) *AuthCacheFactory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthCacheFactory{client: client, prefix: AuthCacheKeyPrefix, ttl: ttl}
}

// ForSession returns the cache entry for sid.
//
//nolint:ireturn // the port is the contract; callers never need the concrete type.
func (f *AuthCacheFactory) ForSession(sid string) ports.AuthCache {
	return &AuthCache{client: f.client, key: f.prefix + sid, ttl: f.ttl}
}

// AuthCache stores the last-known profile of one browser session under a
// single key. Save is the only write path and Clear the only delete path.
type AuthCache struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// Load returns the cached profile or nil when absent.
func (c *AuthCache) Load(ctx context.Context) (*domainauth.UserProfile, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var p domainauth.UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		// A corrupt hint is dropped rather than surfaced.
		if delErr := c.client.Del(ctx, c.key).Err(); delErr != nil {
			return nil, fmt.Errorf("drop corrupt auth cache: %w", delErr)
		}
		return nil, nil
	}
	return &p, nil
}

// Save overwrites the cached profile.
func (c *AuthCache) Save(ctx context.Context, p domainauth.UserProfile) error {
	if p.ID == "" {
		return errors.New("profile ID cannot be empty")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	return c.client.Set(ctx, c.key, data, c.ttl).Err()
}

// Clear deletes the cached profile.
func (c *AuthCache) Clear(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}
