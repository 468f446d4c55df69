package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/learnhub/internal/ports"
)

// ErrNotFound is returned when no token is stored for a session.
var ErrNotFound = ports.ErrTokenNotFound

// TokenStore keeps opaque provider token blobs per browser session id so an
// identity provider session outlives the in-process client that created it.
type TokenStore struct {
	client redis.UniversalClient
	prefix string
}

// TokenKeyPrefix prefixes the default token store keys.
const TokenKeyPrefix = "idp:token:"

// NewTokenStore creates a Redis-based token store.
func NewTokenStore(client redis.UniversalClient) *TokenStore {
	return &TokenStore{client: client, prefix: TokenKeyPrefix}
}

// NewTokenStoreWithPrefix creates a token store with a custom key prefix.
func NewTokenStoreWithPrefix(client redis.UniversalClient, prefix string) *TokenStore {
	return &TokenStore{client: client, prefix: prefix}
}

func (s *TokenStore) Save(ctx context.Context, sid string, data []byte, ttl time.Duration) error {
	if sid == "" {
		return errors.New("session ID cannot be empty")
	}
	if ttl <= 0 {
		return errors.New("token is expired")
	}
	return s.client.Set(ctx, s.prefix+sid, data, ttl).Err()
}

func (s *TokenStore) Load(ctx context.Context, sid string) ([]byte, error) {
	if sid == "" {
		return nil, ErrNotFound
	}
	data, err := s.client.Get(ctx, s.prefix+sid).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (s *TokenStore) Delete(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+sid).Err()
}
