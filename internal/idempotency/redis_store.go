package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cinemarwa:idem:"

// RedisStore shares cached responses across instances. Entries expire
// through the redis TTL.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client; the caller owns its lifecycle.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get treats any redis or decode error as a miss.
func (s *RedisStore) Get(ctx context.Context, key string) (*Response, bool) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (s *RedisStore) Set(ctx context.Context, key string, response *Response, ttl time.Duration) error {
	if response == nil {
		return errors.New("idempotency: nil response")
	}
	raw, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+key, raw, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}
