package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedAccessPrefix = "revoked:access:"

// TokenStorage is a Redis denylist of access token JTIs. Entries expire with
// the token they revoke, so the set never outgrows the live tokens.
type TokenStorage struct {
	client *redis.Client
}

func NewTokenStorage(client *redis.Client) *TokenStorage {
	return &TokenStorage{client: client}
}

func (s *TokenStorage) RevokeAccessToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedAccessPrefix+jti, "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

// IsAccessTokenRevoked проверяет наличие JTI в Redis.
func (s *TokenStorage) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := s.client.Get(ctx, revokedAccessPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("check revoked access token: %w", err)
	}
	return true, nil
}
