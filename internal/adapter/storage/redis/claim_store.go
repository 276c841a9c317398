package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ClaimStore implements ports.ClaimStore using Redis SET NX.
type ClaimStore struct {
	client *goredis.Client
	prefix string
}

// NewClaimStore creates a Redis-backed claim store.
func NewClaimStore(client *goredis.Client) *ClaimStore {
	return &ClaimStore{
		client: client,
		prefix: "claim:",
	}
}

// Claim atomically records key for ttl. It returns true for the first caller
// and false while the key is held.
func (s *ClaimStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetArgs(ctx, s.prefix+key, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis claim: %w", err)
	}
	return result == "OK", nil
}

// Release deletes the claim on key.
func (s *ClaimStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis release claim: %w", err)
	}
	return nil
}
